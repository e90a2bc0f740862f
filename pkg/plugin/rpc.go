package plugin

import (
	"net/rpc"

	goplugin "github.com/hashicorp/go-plugin"
)

// Handshake is the plugin handshake config
var Handshake = goplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "INBOX_PLUGIN",
	MagicCookieValue: "inbox",
}

// PluginName is the key plugins are dispensed under
const PluginName = "notifier"

// PluginMap is the plugin type map
var PluginMap = map[string]goplugin.Plugin{
	PluginName: &NetRPCPlugin{},
}

// Serve is called from a plugin binary's main.
func Serve(impl Plugin) {
	goplugin.Serve(&goplugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]goplugin.Plugin{
			PluginName: &NetRPCPlugin{Impl: impl},
		},
	})
}

// NetRPCPlugin adapts a Plugin to go-plugin's net/rpc transport
type NetRPCPlugin struct {
	Impl Plugin
}

// Server returns the net/rpc server side
func (p *NetRPCPlugin) Server(*goplugin.MuxBroker) (interface{}, error) {
	return &RPCServer{Impl: p.Impl}, nil
}

// Client returns the host side
func (p *NetRPCPlugin) Client(_ *goplugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &RPCClient{client: c}, nil
}

// RPCServer runs inside the plugin process
type RPCServer struct {
	Impl Plugin
}

func (s *RPCServer) Metadata(_ struct{}, resp *Metadata) error {
	*resp = Metadata{
		Name:        s.Impl.Name(),
		Version:     s.Impl.Version(),
		Description: s.Impl.Description(),
	}
	return nil
}

func (s *RPCServer) Notify(n Notification, _ *struct{}) error {
	return s.Impl.Notify(n)
}

// RPCClient implements Plugin by calling into the plugin process
type RPCClient struct {
	client *rpc.Client
	meta   *Metadata
}

// NewRPCClient wraps an already connected rpc client
func NewRPCClient(c *rpc.Client) *RPCClient {
	return &RPCClient{client: c}
}

func (c *RPCClient) metadata() Metadata {
	if c.meta != nil {
		return *c.meta
	}
	var m Metadata
	if err := c.client.Call("Plugin.Metadata", struct{}{}, &m); err != nil {
		return Metadata{}
	}
	c.meta = &m
	return m
}

func (c *RPCClient) Name() string        { return c.metadata().Name }
func (c *RPCClient) Version() string     { return c.metadata().Version }
func (c *RPCClient) Description() string { return c.metadata().Description }

func (c *RPCClient) Notify(n Notification) error {
	return c.client.Call("Plugin.Notify", n, &struct{}{})
}
