// Package netbox talks to the NetBox REST API.
package netbox

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/resty.v1"

	"github.com/cimnine/netbox-dhclient/netbox/models"
)

type Resolver interface {
	Resolve() string
}

type Client struct {
	Config *NetboxConfig
	rest   *resty.Client
}

func NewClient(config *NetboxConfig) *Client {
	timeout, err := time.ParseDuration(config.API.Timeout)
	if err != nil {
		timeout = 10 * time.Second
	}

	rest := resty.New().
		SetHostURL(strings.TrimSuffix(config.API.URL, "/")).
		SetTimeout(timeout)

	return &Client{Config: config, rest: rest}
}

func (c *Client) request(params map[string]string) *resty.Request {
	return c.rest.R().
		SetQueryParams(params).
		SetHeader("Accept", "application/json").
		SetHeader("Authorization", fmt.Sprintf("Token %s", c.Config.API.Token))
}

func checkResponse(response *resty.Response, err error) error {
	if err != nil {
		return errors.Wrap(err, "netbox request failed")
	}
	if response.IsError() {
		return errors.Errorf("netbox: %s %s: %s", response.Request.Method, response.Request.URL, response.Status())
	}
	return nil
}

func (c *Client) GetSites() ([]models.Site, error) {
	response, err := c.request(map[string]string{}).
		SetResult(models.SiteList{}).
		Get(models.SiteList{}.Resolve())
	if err := checkResponse(response, err); err != nil {
		return nil, err
	}

	return response.Result().(*models.SiteList).Sites, nil
}

// CheckSites verifies that every configured site exists and is active.
func (c *Client) CheckSites() bool {
	sites, err := c.GetSites()
	if err != nil {
		logrus.WithError(err).Error("Can't fetch Sites from Netbox")
		return false
	}

	sitesCheck := make(map[string]bool)
	for _, s := range c.Config.Sites {
		sitesCheck[s] = false
	}

	for _, s := range sites {
		if s.Status.Value == models.StatusActive {
			siteID := strconv.FormatUint(s.ID, 10)
			if _, ok := sitesCheck[siteID]; ok {
				sitesCheck[siteID] = true
			}
			if _, ok := sitesCheck[s.Slug]; ok {
				sitesCheck[s.Slug] = true
			}
		}
	}

	allGood := true
	for siteID, found := range sitesCheck {
		if !found {
			logrus.Warnf("Site '%s' not found or it's inactive.", siteID)
			allGood = false
		}
	}

	return allGood
}

func (c *Client) FindInterfacesByMAC(mac string) ([]models.Interface, error) {
	response, err := c.request(map[string]string{"mac_address": mac}).
		SetResult(models.InterfaceList{}).
		Get(models.InterfaceList{}.Resolve())
	if err := checkResponse(response, err); err != nil {
		return nil, err
	}

	return response.Result().(*models.InterfaceList).Interfaces, nil
}

// FindIPAddresses returns the IP addresses matching address regardless of
// their prefix length.
func (c *Client) FindIPAddresses(address string) ([]models.IP, error) {
	response, err := c.request(map[string]string{"address": address}).
		SetResult(models.IPList{}).
		Get(models.IPList{}.Resolve())
	if err := checkResponse(response, err); err != nil {
		return nil, err
	}

	return response.Result().(*models.IPList).IPs, nil
}

func (c *Client) CreateIPAddress(ip models.WritableIP) (*models.IP, error) {
	response, err := c.request(nil).
		SetBody(ip).
		SetResult(models.IP{}).
		Post(models.IPList{}.Resolve())
	if err := checkResponse(response, err); err != nil {
		return nil, err
	}

	return response.Result().(*models.IP), nil
}

func (c *Client) UpdateIPAddress(id uint64, ip models.WritableIP) (*models.IP, error) {
	response, err := c.request(nil).
		SetPathParams(map[string]string{"id": strconv.FormatUint(id, 10)}).
		SetBody(ip).
		SetResult(models.IP{}).
		Patch(models.IP{}.Resolve())
	if err := checkResponse(response, err); err != nil {
		return nil, err
	}

	return response.Result().(*models.IP), nil
}
