package models

import "net"

const (
	IPStatusDHCP       = "dhcp"
	IPStatusDeprecated = "deprecated"

	AssignedObjectInterface = "dcim.interface"
)

type IP struct {
	NetboxCustomFieldsObject
	Family           Family `json:"family"`
	RawAddress       string `json:"address"`
	Status           Status `json:"status"`
	DNSName          string `json:"dns_name"`
	Description      string `json:"description"`
	AssignedObjectID uint64 `json:"assigned_object_id"`
}

func (ip IP) Resolve() string {
	return "ipam/ip-addresses/{id}/"
}

func (ip IP) Address() (net.IP, *net.IPNet, error) {
	return net.ParseCIDR(ip.RawAddress)
}

type IPList struct {
	NetboxList
	IPs []IP `json:"results"`
}

func (IPList) Resolve() string {
	return "ipam/ip-addresses/"
}

// WritableIP is the body of IP address create and update requests.
type WritableIP struct {
	RawAddress         string `json:"address,omitempty"`
	Status             string `json:"status,omitempty"`
	DNSName            string `json:"dns_name,omitempty"`
	Description        string `json:"description,omitempty"`
	AssignedObjectType string `json:"assigned_object_type,omitempty"`
	AssignedObjectID   uint64 `json:"assigned_object_id,omitempty"`
}

type Family struct {
	Value uint8  `json:"value"`
	Label string `json:"label"`
}
