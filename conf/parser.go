package conf

import (
	"encoding/json"

	yaml "gopkg.in/yaml.v3"
)

// ParseJSONOrYAML is used in the same way as json.Unmarshal, but if the data
// is YAML and not JSON, it converts the YAML to JSON and then parses it as
// JSON. Round-tripping through JSON keeps value types consistent between
// the two formats (for instance, all numbers arrive as float64).
func ParseJSONOrYAML(data []byte, target interface{}) error {
	if err := json.Unmarshal(data, target); err == nil {
		return nil
	}
	var rawStructure interface{}
	if err := yaml.Unmarshal(data, &rawStructure); err != nil {
		return err
	}
	jsonData, err := json.Marshal(rawStructure)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonData, target)
}
