// Package storage persists the relay's settings: a small set of named JSON
// values such as the books directory path and the translation preferences
// the control app keeps between runs.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│   HTTP /storage, library lookups    │
//	└─────────────────────────────────────┘
//	                 │
//	                 ▼
//	┌─────────────────────────────────────┐
//	│            Store interface          │
//	│   Get / Put / Delete / List / Stats │
//	└─────────────────────────────────────┘
//	          │                 │
//	          ▼                 ▼
//	┌──────────────────┐ ┌──────────────────┐
//	│   MemoryStore    │ │    FileStore     │
//	│ (tests, no file) │ │ (YAML document)  │
//	└──────────────────┘ └──────────────────┘
//
// # Values
//
// Every value is a JSON document. Put rejects anything json.Valid rejects,
// and Get hands back a copy so callers can keep or mutate it freely. The
// FileStore writes values as native YAML, so the settings file stays
// readable and hand-editable:
//
//	booksDirectoryPath: /home/me/novels
//	translationSettings:
//	    model: flash
//
// # Concurrency
//
// MemoryStore uses a sync.RWMutex: reads share the lock, writes take it
// exclusively. FileStore serializes writers so the file on disk always
// matches the last completed Put or Delete.
//
// # Errors
//
// ErrKeyNotFound: Get on a key that was never written. GetString treats
// this as an empty string, which is how the control app reads unset
// settings.
//
// ErrEmptyKey, ErrInvalidValue: rejected by Put.
//
// # Usage
//
//	store, err := storage.OpenFileStore("settings.yaml")
//	if err != nil {
//	    return err
//	}
//	_ = storage.PutString(store, storage.KeyBooksDirectory, "/home/me/novels")
//	dir, _ := storage.GetString(store, storage.KeyBooksDirectory)
package storage
