package payment

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// flexString decodes a JSON string or number into a string. The gateway is
// not consistent about which one it sends for ids.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("payment: id is neither string nor number: %s", data)
	}
	*f = flexString(n.String())
	return nil
}

// TransactionIDs holds the gateway's TransactionId field, which arrives as a
// single value on status responses and as a list on execute responses.
type TransactionIDs []string

func (t *TransactionIDs) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var list []flexString
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		ids := make(TransactionIDs, 0, len(list))
		for _, id := range list {
			if id != "" {
				ids = append(ids, string(id))
			}
		}
		*t = ids
		return nil
	}

	var one flexString
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	if one == "" {
		*t = nil
		return nil
	}
	*t = TransactionIDs{string(one)}
	return nil
}

// First returns the first id, or "".
func (t TransactionIDs) First() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}
