package artifact

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// jsonbMap adapts Metadata for a jsonb column, mirroring how the rest of
// the storage layer round-trips free-form maps through Postgres.
type jsonbMap map[string]any

func (j jsonbMap) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (j *jsonbMap) Scan(value any) error {
	if value == nil {
		*j = make(jsonbMap)
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			b = []byte(s)
		} else {
			return errors.New("artifact: jsonbMap scan: value is not []byte or string")
		}
	}
	if len(b) == 0 {
		*j = make(jsonbMap)
		return nil
	}
	return json.Unmarshal(b, j)
}

// stringArray adapts []string for a text[] column using Postgres array
// literal syntax.
type stringArray []string

func (a stringArray) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal([]string(a))
	if err != nil {
		return nil, err
	}
	s := string(b)
	return "{" + s[1:len(s)-1] + "}", nil
}

func (a *stringArray) Scan(value any) error {
	if value == nil {
		*a = stringArray{}
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.New("artifact: stringArray scan: unexpected type")
	}
	if len(b) == 0 || string(b) == "{}" {
		*a = stringArray{}
		return nil
	}
	s := string(b)
	if len(s) >= 2 && s[0] == '{' && s[len(s)-1] == '}' {
		jsonStr := "[" + s[1:len(s)-1] + "]"
		return json.Unmarshal([]byte(jsonStr), a)
	}
	return errors.New("artifact: stringArray scan: invalid postgres array literal")
}
