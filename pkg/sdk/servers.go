package sdk

import "fmt"

func (c *Client) ListServers() ([]Server, error) {
	var servers []Server
	err := c.get("/servers", &servers)
	return servers, err
}

func (c *Client) GetServer(id string) (*ServerDetail, error) {
	var detail ServerDetail
	err := c.get("/servers/"+id, &detail)
	return &detail, err
}

func (c *Client) CreateServer(req CreateServerRequest) (*CreateServerResponse, error) {
	var resp CreateServerResponse
	err := c.post("/servers", req, &resp)
	return &resp, err
}

func (c *Client) UpdateServer(id string, req UpdateServerRequest) error {
	return c.patch("/servers/"+id, req, nil)
}

func (c *Client) DeleteServer(id string) error {
	return c.delete("/servers/" + id)
}

func (c *Client) ReinstallServer(id string) error {
	return c.post(fmt.Sprintf("/servers/%s/reinstall", id), nil, nil)
}

func (c *Client) ShipCargo(id string, cargo []CargoFile) error {
	body := map[string][]CargoFile{"cargo": cargo}
	return c.post(fmt.Sprintf("/servers/%s/cargo/ship", id), body, nil)
}

// Power applies one of start, stop, restart or kill.
func (c *Client) Power(id string, action string) error {
	return c.post(fmt.Sprintf("/servers/%s/power/%s", id, action), nil, nil)
}
