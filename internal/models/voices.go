package models

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
)

// DefaultVoiceID is the voice used when none is configured.
const DefaultVoiceID = "en_US-lessac-medium"

//go:embed voices.json
var voicesJSON []byte

// Language describes the language of a voice.
type Language struct {
	Code           string `json:"code"`
	Family         string `json:"family"`
	Region         string `json:"region"`
	NameEnglish    string `json:"name_english"`
	CountryEnglish string `json:"country_english"`
}

// Voice is an entry of the static voice catalog.
type Voice struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Language    Language `json:"language"`
	Quality     string   `json:"quality"`
	NumSpeakers int      `json:"num_speakers"`

	// Path is the model location relative to the asset base URL.
	Path string `json:"path"`
}

// Catalog is the set of voices that can be downloaded.
type Catalog struct {
	voices []Voice
	byKey  map[string]Voice
}

// NewCatalog builds a catalog from voices.
func NewCatalog(voices []Voice) *Catalog {
	c := &Catalog{
		voices: voices,
		byKey:  make(map[string]Voice, len(voices)),
	}
	for _, v := range voices {
		c.byKey[v.Key] = v
	}
	return c
}

var defaultCatalog = sync.OnceValue(func() *Catalog {
	var voices []Voice
	if err := json.Unmarshal(voicesJSON, &voices); err != nil {
		panic(fmt.Sprintf("models: embedded voice catalog is invalid: %v", err))
	}
	return NewCatalog(voices)
})

// DefaultCatalog returns the embedded voice catalog.
func DefaultCatalog() *Catalog {
	return defaultCatalog()
}

// Voices returns every voice in catalog order.
func (c *Catalog) Voices() []Voice {
	out := make([]Voice, len(c.voices))
	copy(out, c.voices)
	return out
}

// Lookup returns the voice with the given key.
func (c *Catalog) Lookup(key string) (Voice, bool) {
	v, ok := c.byKey[key]
	return v, ok
}
