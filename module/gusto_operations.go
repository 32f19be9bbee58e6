package module

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/GoCodeAlone/gustoflow/schema"
)

var (
	// ErrUnknownOperation is returned for a (resource, operation) pair that
	// is not in the operation table.
	ErrUnknownOperation = errors.New("unknown resource/operation")
	// ErrMissingParameter is returned when a required parameter is empty.
	ErrMissingParameter = errors.New("missing required parameter")
)

// GustoParams are the resolved parameters of one item.
type GustoParams map[string]any

// String returns the parameter as a string; numbers and booleans are
// formatted, anything absent is "".
func (p GustoParams) String(key string) string {
	return stringify(p[key])
}

// Map returns a map parameter, or nil.
func (p GustoParams) Map(key string) map[string]any {
	m, _ := p[key].(map[string]any)
	return m
}

// Strings returns a list parameter. A string is split on commas.
func (p GustoParams) Strings(key string) []string {
	var out []string
	switch v := p[key].(type) {
	case []string:
		out = append(out, v...)
	case []any:
		for _, item := range v {
			if s := stringify(item); s != "" {
				out = append(out, s)
			}
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// GustoOperation maps one (resource, operation) pair to exactly one endpoint.
type GustoOperation struct {
	Resource    string
	Operation   string
	Name        string
	Description string
	Method      string
	// Path holds {param} placeholders filled from path-escaped parameters.
	Path   string
	Params []schema.ConfigFieldDef
	// Body builds the JSON body; nil means no body.
	Body func(p GustoParams) (map[string]any, error)
	// Query marks operations that forward the optional "query" parameter.
	Query bool
}

// Key returns "resource.operation".
func (op *GustoOperation) Key() string { return op.Resource + "." + op.Operation }

// Endpoint interpolates the path template.
func (op *GustoOperation) Endpoint(p GustoParams) (string, error) {
	var b strings.Builder
	rest := op.Path
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return "", fmt.Errorf("%s: malformed path template %q", op.Key(), op.Path)
		}
		name := rest[open+1 : open+end]
		val := p.String(name)
		if val == "" {
			return "", fmt.Errorf("%w: %s", ErrMissingParameter, name)
		}
		b.WriteString(rest[:open])
		b.WriteString(url.PathEscape(val))
		rest = rest[open+end+1:]
	}
}

// BuildRequest checks required parameters and produces the endpoint, body
// and query of one call.
func (op *GustoOperation) BuildRequest(p GustoParams) (endpoint string, body, query map[string]any, err error) {
	for _, f := range op.Params {
		if !f.Required {
			continue
		}
		switch f.Type {
		case schema.FieldTypeMultiSelect, schema.FieldTypeArray:
			if len(p.Strings(f.Key)) == 0 {
				return "", nil, nil, fmt.Errorf("%w: %s", ErrMissingParameter, f.Key)
			}
		default:
			if p.String(f.Key) == "" {
				return "", nil, nil, fmt.Errorf("%w: %s", ErrMissingParameter, f.Key)
			}
		}
	}
	endpoint, err = op.Endpoint(p)
	if err != nil {
		return "", nil, nil, err
	}
	if op.Body != nil {
		body, err = op.Body(p)
		if err != nil {
			return "", nil, nil, err
		}
	}
	if op.Query {
		query = p.Map("query")
	}
	return endpoint, body, query, nil
}

// additionalFieldKeys maps schema keys of additionalFields to Gusto keys.
var additionalFieldKeys = map[string]string{
	"middleInitial":      "middle_initial",
	"phone":              "phone",
	"preferredFirstName": "preferred_first_name",
	"workEmail":          "work_email",
	"version":            "version",
}

// mapAdditionalFields converts additionalFields to Gusto's snake_case keys,
// dropping empty values. Unknown keys pass through unchanged.
func mapAdditionalFields(fields map[string]any, into map[string]any) {
	for k, v := range fields {
		if stringify(v) == "" {
			continue
		}
		if gk, ok := additionalFieldKeys[k]; ok {
			k = gk
		}
		into[k] = v
	}
}

func setIfPresent(body map[string]any, key string, p GustoParams, param string) {
	if v := p.String(param); v != "" {
		body[key] = v
	}
}

// GustoWebhookEvents are the subscription types a trigger can listen for.
var GustoWebhookEvents = []schema.Option{
	{Name: "Employee Created", Value: "employee.created", Description: "Triggers when an employee is created"},
	{Name: "Employee Updated", Value: "employee.updated", Description: "Triggers when an employee is updated"},
	{Name: "Employee Terminated", Value: "employee.terminated", Description: "Triggers when an employee is terminated"},
	{Name: "Payroll Created", Value: "payroll.created", Description: "Triggers when a payroll is created"},
	{Name: "Payroll Updated", Value: "payroll.updated", Description: "Triggers when a payroll is updated"},
	{Name: "Payroll Processed", Value: "payroll.processed", Description: "Triggers when a payroll is processed"},
	{Name: "Company Updated", Value: "company.updated", Description: "Triggers when company information is updated"},
	{Name: "Time Off Request Created", Value: "time_off_request.created", Description: "Triggers when a time off request is created"},
	{Name: "Time Off Request Updated", Value: "time_off_request.updated", Description: "Triggers when a time off request is updated"},
}

// Field definitions shared by several operations.
var (
	companyIDField = schema.ConfigFieldDef{
		Key: "companyId", Label: "Company ID", Type: schema.FieldTypeString, Required: true,
		Description: "The ID of the company",
	}
	companyPickerField = schema.ConfigFieldDef{
		Key: "companyId", Label: "Company", Type: schema.FieldTypeSelect, Required: true,
		OptionsFrom: "getCompanies",
		Description: "Choose a company from the list, or specify an ID using an expression",
	}
	employeeIDField = schema.ConfigFieldDef{
		Key: "employeeId", Label: "Employee ID", Type: schema.FieldTypeString, Required: true,
		Description: "The ID of the employee",
	}
	payrollIDField = schema.ConfigFieldDef{
		Key: "payrollId", Label: "Payroll ID", Type: schema.FieldTypeString, Required: true,
		Description: "The ID of the payroll",
	}
	scheduleIDField = schema.ConfigFieldDef{
		Key: "scheduleId", Label: "Pay Schedule ID", Type: schema.FieldTypeString, Required: true,
		Description: "The ID of the pay schedule",
	}
	timeOffRequestIDField = schema.ConfigFieldDef{
		Key: "timeOffRequestId", Label: "Time Off Request ID", Type: schema.FieldTypeString, Required: true,
		Description: "The ID of the time off request",
	}
	webhookIDField = schema.ConfigFieldDef{
		Key: "webhookId", Label: "Webhook ID", Type: schema.FieldTypeString, Required: true,
		Description: "The ID of the webhook subscription",
	}
	queryField = schema.ConfigFieldDef{
		Key: "query", Label: "Query Parameters", Type: schema.FieldTypeMap,
		Description: "Extra query string parameters sent as-is",
	}
	employerNoteField = schema.ConfigFieldDef{
		Key: "employerNote", Label: "Employer Note", Type: schema.FieldTypeString,
		Description: "Note shown to the employee",
	}
	employeeFields = []schema.ConfigFieldDef{
		{Key: "middleInitial", Label: "Middle Initial", Type: schema.FieldTypeString},
		{Key: "phone", Label: "Phone", Type: schema.FieldTypeString},
		{Key: "preferredFirstName", Label: "Preferred First Name", Type: schema.FieldTypeString},
		{Key: "workEmail", Label: "Work Email", Type: schema.FieldTypeString},
	}
)

func additionalFieldsField(withVersion bool) schema.ConfigFieldDef {
	fields := append([]schema.ConfigFieldDef(nil), employeeFields...)
	if withVersion {
		fields = append(fields, schema.ConfigFieldDef{
			Key: "version", Label: "Version", Type: schema.FieldTypeString,
			Description: "Current version of the employee record, required by Gusto for updates",
		})
	}
	return schema.ConfigFieldDef{
		Key: "additionalFields", Label: "Additional Fields", Type: schema.FieldTypeCollection,
		Placeholder: "Add Field", Fields: fields,
	}
}

func employerNoteBody(p GustoParams) (map[string]any, error) {
	body := map[string]any{}
	setIfPresent(body, "employer_note", p, "employerNote")
	return body, nil
}

// gustoOperations is the dispatch table, in schema order.
var gustoOperations = []*GustoOperation{
	// company
	{
		Resource: "company", Operation: "get", Name: "Get", Description: "Get a company",
		Method: "GET", Path: "/v1/companies/{companyId}",
		Params: []schema.ConfigFieldDef{companyIDField},
	},
	{
		Resource: "company", Operation: "getMany", Name: "Get Many", Description: "Get many companies",
		Method: "GET", Path: "/v1/companies", Query: true,
		Params: []schema.ConfigFieldDef{queryField},
	},

	// employee
	{
		Resource: "employee", Operation: "create", Name: "Create", Description: "Create an employee",
		Method: "POST", Path: "/v1/companies/{companyId}/employees",
		Params: []schema.ConfigFieldDef{
			companyPickerField,
			{Key: "firstName", Label: "First Name", Type: schema.FieldTypeString, Required: true, Description: "The first name of the employee"},
			{Key: "lastName", Label: "Last Name", Type: schema.FieldTypeString, Required: true, Description: "The last name of the employee"},
			{Key: "email", Label: "Email", Type: schema.FieldTypeString, Required: true, Placeholder: "name@email.com", Description: "The email address of the employee"},
			{Key: "dateOfBirth", Label: "Date of Birth", Type: schema.FieldTypeDate, Description: "The date of birth of the employee (YYYY-MM-DD)"},
			{Key: "ssn", Label: "Social Security Number", Type: schema.FieldTypeString, Sensitive: true, Description: "The SSN of the employee"},
			additionalFieldsField(false),
		},
		Body: func(p GustoParams) (map[string]any, error) {
			body := map[string]any{
				"first_name": p.String("firstName"),
				"last_name":  p.String("lastName"),
				"email":      p.String("email"),
			}
			setIfPresent(body, "date_of_birth", p, "dateOfBirth")
			setIfPresent(body, "ssn", p, "ssn")
			mapAdditionalFields(p.Map("additionalFields"), body)
			return body, nil
		},
	},
	{
		Resource: "employee", Operation: "get", Name: "Get", Description: "Get an employee",
		Method: "GET", Path: "/v1/employees/{employeeId}",
		Params: []schema.ConfigFieldDef{employeeIDField},
	},
	{
		Resource: "employee", Operation: "getMany", Name: "Get Many", Description: "Get many employees",
		Method: "GET", Path: "/v1/companies/{companyId}/employees", Query: true,
		Params: []schema.ConfigFieldDef{companyPickerField, queryField},
	},
	{
		Resource: "employee", Operation: "update", Name: "Update", Description: "Update an employee",
		Method: "PUT", Path: "/v1/employees/{employeeId}",
		Params: []schema.ConfigFieldDef{employeeIDField, additionalFieldsField(true)},
		Body: func(p GustoParams) (map[string]any, error) {
			body := map[string]any{}
			mapAdditionalFields(p.Map("additionalFields"), body)
			return body, nil
		},
	},
	{
		Resource: "employee", Operation: "terminate", Name: "Terminate", Description: "Terminate an employee",
		Method: "PUT", Path: "/v1/employees/{employeeId}/terminations",
		Params: []schema.ConfigFieldDef{
			employeeIDField,
			{Key: "terminationDate", Label: "Termination Date", Type: schema.FieldTypeDate, Required: true, Description: "The last day of employment (YYYY-MM-DD)"},
		},
		Body: func(p GustoParams) (map[string]any, error) {
			return map[string]any{"termination_date": p.String("terminationDate")}, nil
		},
	},

	// payroll
	{
		Resource: "payroll", Operation: "get", Name: "Get", Description: "Get a payroll",
		Method: "GET", Path: "/v1/payrolls/{payrollId}",
		Params: []schema.ConfigFieldDef{payrollIDField},
	},
	{
		Resource: "payroll", Operation: "getMany", Name: "Get Many", Description: "Get many payrolls",
		Method: "GET", Path: "/v1/companies/{companyId}/payrolls", Query: true,
		Params: []schema.ConfigFieldDef{companyPickerField, queryField},
	},
	{
		Resource: "payroll", Operation: "process", Name: "Process", Description: "Submit a payroll for processing",
		Method: "PUT", Path: "/v1/payrolls/{payrollId}/submit",
		Params: []schema.ConfigFieldDef{payrollIDField},
	},

	// paySchedule
	{
		Resource: "paySchedule", Operation: "get", Name: "Get", Description: "Get a pay schedule",
		Method: "GET", Path: "/v1/pay_schedules/{scheduleId}",
		Params: []schema.ConfigFieldDef{scheduleIDField},
	},
	{
		Resource: "paySchedule", Operation: "getMany", Name: "Get Many", Description: "Get many pay schedules",
		Method: "GET", Path: "/v1/companies/{companyId}/pay_schedules", Query: true,
		Params: []schema.ConfigFieldDef{companyPickerField, queryField},
	},

	// timeOffRequest
	{
		Resource: "timeOffRequest", Operation: "get", Name: "Get", Description: "Get a time off request",
		Method: "GET", Path: "/v1/time_off_requests/{timeOffRequestId}",
		Params: []schema.ConfigFieldDef{timeOffRequestIDField},
	},
	{
		Resource: "timeOffRequest", Operation: "getMany", Name: "Get Many", Description: "Get many time off requests",
		Method: "GET", Path: "/v1/companies/{companyId}/time_off_requests", Query: true,
		Params: []schema.ConfigFieldDef{companyPickerField, queryField},
	},
	{
		Resource: "timeOffRequest", Operation: "approve", Name: "Approve", Description: "Approve a time off request",
		Method: "PUT", Path: "/v1/time_off_requests/{timeOffRequestId}/approve",
		Params: []schema.ConfigFieldDef{timeOffRequestIDField, employerNoteField},
		Body:   employerNoteBody,
	},
	{
		Resource: "timeOffRequest", Operation: "deny", Name: "Deny", Description: "Deny a time off request",
		Method: "PUT", Path: "/v1/time_off_requests/{timeOffRequestId}/deny",
		Params: []schema.ConfigFieldDef{timeOffRequestIDField, employerNoteField},
		Body:   employerNoteBody,
	},

	// webhook
	{
		Resource: "webhook", Operation: "create", Name: "Create", Description: "Create a webhook subscription",
		Method: "POST", Path: "/v1/webhook_subscriptions",
		Params: []schema.ConfigFieldDef{
			{Key: "webhookUrl", Label: "Webhook URL", Type: schema.FieldTypeString, Required: true, Description: "The URL to receive webhook events"},
			{Key: "eventTypes", Label: "Event Types", Type: schema.FieldTypeMultiSelect, Required: true, Options: GustoWebhookEvents[:6], Description: "The events to subscribe to"},
		},
		Body: func(p GustoParams) (map[string]any, error) {
			return map[string]any{
				"url":                p.String("webhookUrl"),
				"subscription_types": p.Strings("eventTypes"),
			}, nil
		},
	},
	{
		Resource: "webhook", Operation: "delete", Name: "Delete", Description: "Delete a webhook subscription",
		Method: "DELETE", Path: "/v1/webhook_subscriptions/{webhookId}",
		Params: []schema.ConfigFieldDef{webhookIDField},
	},
	{
		Resource: "webhook", Operation: "get", Name: "Get", Description: "Get a webhook subscription",
		Method: "GET", Path: "/v1/webhook_subscriptions/{webhookId}",
		Params: []schema.ConfigFieldDef{webhookIDField},
	},
	{
		Resource: "webhook", Operation: "getMany", Name: "Get Many", Description: "Get many webhook subscriptions",
		Method: "GET", Path: "/v1/webhook_subscriptions", Query: true,
		Params: []schema.ConfigFieldDef{queryField},
	},
}

// GustoResources lists the resources in display order.
var GustoResources = []schema.Option{
	{Name: "Company", Value: "company"},
	{Name: "Employee", Value: "employee"},
	{Name: "Payroll", Value: "payroll"},
	{Name: "Pay Schedule", Value: "paySchedule"},
	{Name: "Time Off Request", Value: "timeOffRequest"},
	{Name: "Webhook", Value: "webhook"},
}

// GustoOperations returns the operation table in a stable order.
func GustoOperations() []*GustoOperation {
	return append([]*GustoOperation(nil), gustoOperations...)
}

// LookupGustoOperation finds the table entry for a (resource, operation) pair.
func LookupGustoOperation(resource, operation string) (*GustoOperation, error) {
	for _, op := range gustoOperations {
		if op.Resource == resource && op.Operation == operation {
			return op, nil
		}
	}
	return nil, fmt.Errorf("%w: %s.%s", ErrUnknownOperation, resource, operation)
}
