package persistence

import (
	"encoding/json"
	"fmt"
)

// MarshalConsumptionRecord serializes a ConsumptionRecord to JSON bytes.
// big.Int and common.Hash have built-in JSON support.
func MarshalConsumptionRecord(record *ConsumptionRecord) ([]byte, error) {
	if record == nil {
		return nil, fmt.Errorf("cannot marshal nil ConsumptionRecord")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ConsumptionRecord to JSON: %w", err)
	}

	return data, nil
}

// UnmarshalConsumptionRecord deserializes a ConsumptionRecord from JSON bytes.
func UnmarshalConsumptionRecord(data []byte) (*ConsumptionRecord, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var record ConsumptionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to ConsumptionRecord: %w", err)
	}

	return &record, nil
}

// MarshalVaultState serializes VaultState to JSON bytes.
func MarshalVaultState(vs *VaultState) ([]byte, error) {
	if vs == nil {
		return nil, fmt.Errorf("cannot marshal nil VaultState")
	}

	return json.Marshal(vs)
}

// UnmarshalVaultState deserializes VaultState from JSON bytes.
func UnmarshalVaultState(data []byte) (*VaultState, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var vs VaultState
	if err := json.Unmarshal(data, &vs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to VaultState: %w", err)
	}

	return &vs, nil
}
