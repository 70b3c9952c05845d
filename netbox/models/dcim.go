package models

type Site struct {
	NetboxCustomFieldsObject
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	TimeZone string `json:"time_zone"`
	Status   Status `json:"status"`
}

func (s Site) Resolve() string {
	return "dcim/sites/{id}/"
}

type SiteList struct {
	NetboxList
	Sites []Site `json:"results"`
}

func (SiteList) Resolve() string {
	return "dcim/sites/"
}

type EmbeddedDevice struct {
	EmbeddedNetboxObject
	Name    string `json:"name"`
	Display string `json:"display"`
}

type Interface struct {
	NetboxObject
	Device     EmbeddedDevice `json:"device"`
	Name       string         `json:"name"`
	MACAddress string         `json:"mac_address"`
}

func (i Interface) Resolve() string {
	return "dcim/interfaces/{id}/"
}

type InterfaceList struct {
	NetboxList
	Interfaces []Interface `json:"results"`
}

func (InterfaceList) Resolve() string {
	return "dcim/interfaces/"
}
