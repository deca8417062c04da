package dispatcher

// SchemaField documents one label or structured-metadata field for the
// schema briefing tool.
type SchemaField struct {
	Name         string   `yaml:"name" json:"name"`
	Description  string   `yaml:"description" json:"description"`
	CommonValues []string `yaml:"common_values" json:"common_values"`
}

// SavedQuery is a named, pre-approved LogQL query with a default lookback
// range such as "1h".
type SavedQuery struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Query       string `yaml:"query" json:"query"`
	Range       string `yaml:"range" json:"range"`
}
