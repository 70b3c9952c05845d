package models

type NetboxObject struct {
	ID          uint64 `json:"id"`
	Tags        Tags   `json:"tags,omitempty"`
	Created     string `json:"created,omitempty"`
	LastUpdated string `json:"last_updated,omitempty"`
}

type NetboxCustomFieldsObject struct {
	NetboxObject
	CustomFields CustomFields `json:"custom_fields,omitempty"`
}

type EmbeddedNetboxObject struct {
	ID  uint64 `json:"id"`
	URL string `json:"url"`
}

type NetboxList struct {
	Count    int    `json:"count"`
	Next     string `json:"next"`
	Previous string `json:"previous"`
}

// StatusActive is the status value of active objects.
const StatusActive = "active"

type Status struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

type Tags []Tag

type Tag struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type CustomFields map[string]interface{}
