package module

import (
	"github.com/GoCodeAlone/gustoflow/schema"
)

// Type identifiers contributed by the Gusto integration.
const (
	GustoCredentialType = "gusto.credential"
	GustoStepType       = "step.gusto"
	GustoTriggerType    = "gusto"
)

// GustoNodeSchema builds the step.gusto schema from the operation table:
// a resource select, one operation select per resource, and every
// parameter field shown only for the operations that use it.
func GustoNodeSchema() *schema.ModuleSchema {
	fields := []schema.ConfigFieldDef{
		{
			Key: "credential", Label: "Credential", Type: schema.FieldTypeString, Required: true,
			Description: "Name of the gusto.credential module",
		},
		{
			Key: "resource", Label: "Resource", Type: schema.FieldTypeSelect, Required: true,
			Options: GustoResources, DefaultValue: "employee",
		},
	}

	for _, res := range GustoResources {
		var opts []schema.Option
		for _, op := range gustoOperations {
			if op.Resource == res.Value {
				opts = append(opts, schema.Option{Name: op.Name, Value: op.Operation, Description: op.Description})
			}
		}
		fields = append(fields, schema.ConfigFieldDef{
			Key: "operation", Label: "Operation", Type: schema.FieldTypeSelect, Required: true,
			Options: opts, DefaultValue: "get",
			ShowWhen: map[string][]string{"resource": {res.Value}},
		})
	}

	// Identical field definitions of one resource share a single entry whose
	// operation condition lists every operation using it.
	index := map[string]int{}
	for _, op := range gustoOperations {
		for _, p := range op.Params {
			sig := op.Resource + "|" + p.Key + "|" + string(p.Type) + "|" + p.OptionsFrom
			if p.Type == schema.FieldTypeCollection {
				sig += "|" + op.Operation
			}
			if i, ok := index[sig]; ok {
				fields[i].ShowWhen["operation"] = append(fields[i].ShowWhen["operation"], op.Operation)
				continue
			}
			f := p
			f.Group = "parameters"
			f.ShowWhen = map[string][]string{
				"resource":  {op.Resource},
				"operation": {op.Operation},
			}
			index[sig] = len(fields)
			fields = append(fields, f)
		}
	}

	fields = append(fields,
		schema.ConfigFieldDef{
			Key: "items", Label: "Items", Type: schema.FieldTypeString,
			Placeholder: ".rows[]",
			Description: "jq expression selecting the input items; each result is processed as one item",
		},
		schema.ConfigFieldDef{
			Key: "continueOnFail", Label: "Continue On Fail", Type: schema.FieldTypeBool, DefaultValue: false,
			Description: "Record a failing item as {error} and keep processing the rest",
		},
	)

	return &schema.ModuleSchema{
		Type:         GustoStepType,
		Label:        "Gusto",
		Category:     "integration",
		Description:  "Consume the Gusto HR and payroll API",
		ConfigFields: fields,
		DefaultConfig: map[string]any{
			"resource":  "employee",
			"operation": "get",
		},
	}
}

// GustoTriggerSchema describes the gusto pipeline trigger.
func GustoTriggerSchema() *schema.ModuleSchema {
	return &schema.ModuleSchema{
		Type:        GustoTriggerType,
		Label:       "Gusto Trigger",
		Category:    "trigger",
		Description: "Handle Gusto webhooks",
		ConfigFields: []schema.ConfigFieldDef{
			{Key: "credential", Label: "Credential", Type: schema.FieldTypeString, Required: true},
			{
				Key: "events", Label: "Events", Type: schema.FieldTypeMultiSelect, Required: true,
				Options: GustoWebhookEvents, Description: "The events to listen for",
			},
			{
				Key: "staticData", Label: "Static Data Store", Type: schema.FieldTypeString,
				Description: "staticdata.* module holding the webhook subscription ID; in-memory when empty",
			},
			{
				Key: "path", Label: "Webhook Path", Type: schema.FieldTypeString,
				Placeholder: "/webhooks/gusto/<pipeline>",
			},
			{
				Key: "publicUrl", Label: "Public URL", Type: schema.FieldTypeString, Required: true,
				Placeholder: "https://hooks.example.com",
				Description: "Externally reachable origin that Gusto posts to",
			},
			{
				Key: "options", Label: "Options", Type: schema.FieldTypeCollection, Placeholder: "Add Option",
				Fields: []schema.ConfigFieldDef{
					{
						Key: "verifySignature", Label: "Verify Webhook Signature", Type: schema.FieldTypeBool,
						DefaultValue: true, Description: "Whether to verify the webhook signature for security",
					},
					{
						Key: "includeRawBody", Label: "Include Raw Body", Type: schema.FieldTypeBool,
						DefaultValue: false, Description: "Whether to include the raw webhook body in the output",
					},
					{
						Key: "signingSecret", Label: "Signing Secret", Type: schema.FieldTypeString, Sensitive: true,
						Description: "HMAC key for x-gusto-signature; defaults to the subscription's verification token",
					},
				},
			},
		},
	}
}

// GustoCredentialSchema describes the gusto.credential module.
func GustoCredentialSchema() *schema.ModuleSchema {
	return &schema.ModuleSchema{
		Type:        GustoCredentialType,
		Label:       "Gusto OAuth2 API",
		Category:    "credential",
		Description: "OAuth2 credential for the Gusto API",
		ConfigFields: []schema.ConfigFieldDef{
			{
				Key: "environment", Label: "Environment", Type: schema.FieldTypeSelect, DefaultValue: "demo",
				Options: []schema.Option{
					{Name: "Demo", Value: "demo"},
					{Name: "Production", Value: "production"},
				},
			},
			{Key: "clientId", Label: "Client ID", Type: schema.FieldTypeString},
			{Key: "clientSecret", Label: "Client Secret", Type: schema.FieldTypeString, Sensitive: true},
			{Key: "redirectUrl", Label: "Redirect URL", Type: schema.FieldTypeString},
			{Key: "scopes", Label: "Scopes", Type: schema.FieldTypeArray},
			{Key: "accessToken", Label: "Access Token", Type: schema.FieldTypeString, Sensitive: true},
			{Key: "refreshToken", Label: "Refresh Token", Type: schema.FieldTypeString, Sensitive: true},
			{Key: "tokenExpiry", Label: "Token Expiry", Type: schema.FieldTypeString, Placeholder: "2026-01-02T15:04:05Z"},
			{Key: "tokenStore", Label: "Token Store", Type: schema.FieldTypeString, Description: "staticdata.* module persisting refreshed tokens"},
			{Key: "authUrl", Label: "Authorization URL", Type: schema.FieldTypeHidden, DefaultValue: GustoAuthURL},
			{Key: "tokenUrl", Label: "Access Token URL", Type: schema.FieldTypeHidden, DefaultValue: GustoTokenURL},
			{Key: "baseUrl", Label: "Base URL", Type: schema.FieldTypeString, Description: "Overrides the environment's API origin"},
		},
	}
}
