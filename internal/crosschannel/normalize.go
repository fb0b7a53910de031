package crosschannel

import (
	"application-tracker/internal/models"
)

// selection pairs a chat-side {id, name} object with its web-side scalar field.
type selection struct {
	object string
	scalar string
}

var selections = []selection{
	{object: "selectedCategory", scalar: "category"},
	{object: "selectedBusiness", scalar: "business"},
	{object: "selectedScale", scalar: "scale"},
}

// NormalizeFor reshapes formData for the channel it is being copied to. All
// other keys pass through untouched.
func NormalizeFor(target models.Channel, data models.Document) models.Document {
	if target == models.ChannelChat {
		return NormalizeForChat(data)
	}
	return NormalizeForWeb(data)
}

// NormalizeForWeb sets each scalar field to the id of its chat-side selection
// object.
func NormalizeForWeb(data models.Document) models.Document {
	out := data.Clone()
	if out == nil {
		out = models.Document{}
	}
	for _, sel := range selections {
		obj, ok := out.Map(sel.object)
		if !ok {
			continue
		}
		if id, ok := obj["id"]; ok && id != nil {
			out[sel.scalar] = id
		}
	}
	return out
}

// NormalizeForChat builds a {id, name} selection object from each web-side
// scalar when the chat object is absent.
func NormalizeForChat(data models.Document) models.Document {
	out := data.Clone()
	if out == nil {
		out = models.Document{}
	}
	for _, sel := range selections {
		if _, exists := out[sel.object]; exists {
			continue
		}
		v, ok := out[sel.scalar]
		if !ok || v == nil {
			continue
		}
		if _, isObject := out.Map(sel.scalar); isObject {
			continue
		}
		name := out.String(sel.scalar)
		if name == "" {
			continue
		}
		out[sel.object] = models.Document{"id": v, "name": name}
	}
	return out
}
