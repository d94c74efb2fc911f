package repository

import (
	"encoding/json"

	"github.com/tulpar/apgunpacker/internal/models"
)

// FieldMerger copies descriptor fields of an incoming package into the
// aggregate descriptor. cmp is the result of comparing the incoming version
// with the recorded one. Architecture is never touched by a FieldMerger.
type FieldMerger func(main *models.MainDescriptor, incoming *models.Descriptor, cmp int)

// OverwriteNonArchitectureFields replaces every recorded field with the
// incoming value regardless of version ordering. An older package therefore
// rolls the recorded version back.
func OverwriteNonArchitectureFields(main *models.MainDescriptor, incoming *models.Descriptor, cmp int) {
	if main.Fields == nil {
		main.Fields = make(map[string]json.RawMessage, len(incoming.Fields))
	}
	for key, value := range incoming.Fields {
		if key == models.FieldArchitecture {
			continue
		}
		main.Fields[key] = value
	}
}

// VersionGatedFields only takes the incoming fields when the incoming
// version is strictly greater than the recorded one
func VersionGatedFields(main *models.MainDescriptor, incoming *models.Descriptor, cmp int) {
	if cmp > 0 {
		OverwriteNonArchitectureFields(main, incoming, cmp)
	}
}
