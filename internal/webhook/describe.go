package webhook

import "net/http"

// Description is the node descriptor published for a source.
type Description struct {
	Name        string         `json:"name"`
	DisplayName string         `json:"displayName"`
	Description string         `json:"description"`
	Icon        string         `json:"icon,omitempty"`
	Group       []string       `json:"group"`
	Version     int            `json:"version"`
	Categories  []string       `json:"categories,omitempty"`
	Webhooks    []WebhookSpec  `json:"webhooks"`
	Properties  []PropertySpec `json:"properties"`
}

// WebhookSpec describes the endpoint a source listens on.
type WebhookSpec struct {
	Name         string `json:"name"`
	HTTPMethod   string `json:"httpMethod"`
	Path         string `json:"path"`
	ResponseMode string `json:"responseMode"`
}

// PropertySpec is one configurable parameter.
type PropertySpec struct {
	DisplayName string         `json:"displayName"`
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Default     any            `json:"default"`
	Required    bool           `json:"required,omitempty"`
	Password    bool           `json:"password,omitempty"`
	Placeholder string         `json:"placeholder,omitempty"`
	Description string         `json:"description,omitempty"`
	Options     []PropertySpec `json:"options,omitempty"`
}

// Describe builds the descriptor for cfg.
func Describe(cfg SourceConfig) Description {
	return Description{
		Name:        cfg.Name,
		DisplayName: cfg.DisplayName,
		Description: cfg.Description,
		Icon:        cfg.Icon,
		Group:       []string{"trigger"},
		Version:     1,
		Categories:  cfg.Categories,
		Webhooks: []WebhookSpec{{
			Name:         "default",
			HTTPMethod:   http.MethodPost,
			Path:         `={{$parameter["path"]}}`,
			ResponseMode: "onReceived",
		}},
		Properties: []PropertySpec{
			{
				DisplayName: "Webhook Path",
				Name:        "path",
				Type:        "string",
				Default:     cfg.DefaultPath,
				Required:    true,
				Placeholder: "webhook-path",
				Description: "The path to listen on for this webhook",
			},
			{
				DisplayName: "Webhook Secret",
				Name:        "webhookSecret",
				Type:        "string",
				Default:     "",
				Password:    true,
				Description: "Secret expected in the " + DefaultSecretHeader + " header",
			},
			{
				DisplayName: "Options",
				Name:        "options",
				Type:        "collection",
				Default:     map[string]any{},
				Options: []PropertySpec{
					{
						DisplayName: "Include Raw Body",
						Name:        "includeRawBody",
						Type:        "boolean",
						Default:     false,
						Description: "Whether to attach the raw request body as " + FieldRawBody,
					},
					{
						DisplayName: "Include Headers",
						Name:        "includeHeaders",
						Type:        "boolean",
						Default:     false,
						Description: "Whether to attach the request headers as " + FieldHeaders,
					},
				},
			},
		},
	}
}
