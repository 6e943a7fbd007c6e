package generate

// Schema helpers for building JSON Schema definitions.

// ObjectProperties builds the properties map for an object schema.
func ObjectProperties(properties map[string]interface{}) map[string]interface{} {
	return properties
}

// StringProperty creates a string property with a description.
func StringProperty(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
	}
}

// ArrayProperty creates an array property with the given item type.
func ArrayProperty(description string, itemType map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"description": description,
		"items":       itemType,
	}
}
