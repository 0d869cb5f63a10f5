package storage

import (
	"encoding/json"
	"errors"
	"fmt"
)

// KeyBooksDirectory names the setting that holds the library root.
const KeyBooksDirectory = "booksDirectoryPath"

// GetString reads a setting holding a JSON string. A missing key or a JSON
// null yields "" with no error.
func GetString(s Store, key string) (string, error) {
	raw, err := s.Get(key)
	if errors.Is(err, ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var out *string
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("setting %q is not a string: %w", key, err)
	}
	if out == nil {
		return "", nil
	}
	return *out, nil
}

// PutString stores value as a JSON string.
func PutString(s Store, key, value string) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.Put(key, raw)
}
