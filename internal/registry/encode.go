package registry

import "encoding/json"

func encodeComponent(record ComponentRecord) ([]byte, error) {
	return json.Marshal(record)
}

func decodeComponent(data []byte) (ComponentRecord, error) {
	var record ComponentRecord
	err := json.Unmarshal(data, &record)
	return record, err
}
