package contract

// Schema is the JSON Schema subset understood by the model backends.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`

	// Ordering is the preferred property order for backends that honor one.
	Ordering []string `json:"-"`
}

func stepSchema() *Schema {
	return &Schema{
		Type: "object",
		Properties: map[string]*Schema{
			"title":        {Type: "string", Description: "A clear, concise title for the step."},
			"instruction":  {Type: "string", Description: "An executable CLI command, or a precise description of the console actions for this step."},
			"bestPractice": {Type: "string", Description: "A best practice or important consideration for this step."},
			"referenceUrl": {Type: "string", Description: "Official provider documentation URL for this step."},
		},
		Required: []string{"title", "instruction"},
		Ordering: []string{"title", "instruction", "bestPractice", "referenceUrl"},
	}
}

func implementationSchema() *Schema {
	return &Schema{
		Type:        "object",
		Description: "Implementation guidance per cloud provider.",
		Properties: map[string]*Schema{
			string(ProviderGCP):   {Type: "array", Description: "Steps for Google Cloud Platform.", Items: stepSchema()},
			string(ProviderAWS):   {Type: "array", Description: "Steps for Amazon Web Services.", Items: stepSchema()},
			string(ProviderAzure): {Type: "array", Description: "Steps for Microsoft Azure.", Items: stepSchema()},
		},
		Ordering: []string{string(ProviderGCP), string(ProviderAWS), string(ProviderAzure)},
	}
}

// GroundedSchema describes GroundedOutput.
func GroundedSchema() *Schema {
	return &Schema{
		Type: "object",
		Properties: map[string]*Schema{
			"answerFound":        {Type: "boolean", Description: "Whether the documents contain an answer to the question."},
			"answer":             {Type: "string", Description: "Markdown answer based only on the documents, or a statement that the answer was not found."},
			"implementation":     implementationSchema(),
			"suggestsEscalation": {Type: "boolean", Description: "True when answering from general knowledge is recommended."},
			"escalationMessage":  {Type: "string", Description: "Short invitation to answer from general knowledge instead."},
			"referenceUrl":       {Type: "string", Description: "A highly relevant documentation URL, if any."},
		},
		Required: []string{"answerFound", "answer"},
		Ordering: []string{"answerFound", "answer", "implementation", "suggestsEscalation", "escalationMessage", "referenceUrl"},
	}
}

// OpenKnowledgeSchema describes OpenKnowledgeOutput.
func OpenKnowledgeSchema() *Schema {
	return &Schema{
		Type: "object",
		Properties: map[string]*Schema{
			"answer": {Type: "string", Description: "Markdown answer drawing on any available knowledge."},
		},
		Required: []string{"answer"},
		Ordering: []string{"answer"},
	}
}

// SchemaFor returns the output schema of kind.
func SchemaFor(kind Kind) *Schema {
	if kind == KindGrounded {
		return GroundedSchema()
	}
	return OpenKnowledgeSchema()
}
