package txn

import (
	"encoding/json"
	"os"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"
)

// LoadManifest reads a transaction from a YAML file.
func LoadManifest(path string) (Transaction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Transaction{}, xerrors.Errorf("failed to read manifest: %v", err)
	}

	return ParseManifest(data)
}

// ParseManifest decodes a transaction in the YAML format. The document has the
// same structure as the JSON form of the transaction.
func ParseManifest(data []byte) (Transaction, error) {
	var doc interface{}

	err := yaml.Unmarshal(data, &doc)
	if err != nil {
		return Transaction{}, xerrors.Errorf("failed to parse manifest: %v", err)
	}

	doc, err = normalize(doc)
	if err != nil {
		return Transaction{}, xerrors.Errorf("failed to parse manifest: %v", err)
	}

	buffer, err := json.Marshal(doc)
	if err != nil {
		return Transaction{}, xerrors.Errorf("failed to convert manifest: %v", err)
	}

	var tx Transaction

	err = json.Unmarshal(buffer, &tx)
	if err != nil {
		return Transaction{}, xerrors.Errorf("invalid manifest: %v", err)
	}

	return tx, nil
}

// FormatManifest encodes the transaction in the YAML format.
func FormatManifest(tx Transaction) ([]byte, error) {
	buffer, err := json.Marshal(tx)
	if err != nil {
		return nil, xerrors.Errorf("failed to marshal transaction: %v", err)
	}

	var doc yaml.MapSlice

	err = yaml.Unmarshal(buffer, &doc)
	if err != nil {
		return nil, xerrors.Errorf("failed to convert transaction: %v", err)
	}

	return yaml.Marshal(doc)
}

// normalize converts the maps of a YAML document to maps that can be encoded
// in JSON.
func normalize(doc interface{}) (interface{}, error) {
	switch v := doc.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(v))

		for key, value := range v {
			str, ok := key.(string)
			if !ok {
				return nil, xerrors.Errorf("invalid key '%v'", key)
			}

			n, err := normalize(value)
			if err != nil {
				return nil, err
			}

			m[str] = n
		}

		return m, nil
	case []interface{}:
		for i, value := range v {
			n, err := normalize(value)
			if err != nil {
				return nil, err
			}

			v[i] = n
		}

		return v, nil
	default:
		return doc, nil
	}
}
