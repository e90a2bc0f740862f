package plugin

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"

	goplugin "github.com/hashicorp/go-plugin"
	"github.com/meszmate/inbox/internal/events"
	"github.com/meszmate/inbox/internal/logging"
	"github.com/meszmate/inbox/internal/message"
)

// Host manages plugin lifecycle
type Host struct {
	mu        sync.RWMutex
	plugins   map[string]*LoadedPlugin
	pluginDir string
	log       *logging.Logger
}

// LoadedPlugin represents a loaded plugin
type LoadedPlugin struct {
	Name    string
	Version string
	Plugin  Plugin
	Client  *goplugin.Client
}

// NewHost creates a new plugin host
func NewHost(pluginDir string, log *logging.Logger) *Host {
	if log == nil {
		log = logging.Nop()
	}
	return &Host{
		plugins:   make(map[string]*LoadedPlugin),
		pluginDir: pluginDir,
		log:       log,
	}
}

// LoadAll loads the named plugins from the plugin directory. Each name is
// an executable file in that directory.
func (h *Host) LoadAll(names []string) error {
	if h.pluginDir == "" || len(names) == 0 {
		return nil
	}

	if _, err := os.Stat(h.pluginDir); err != nil {
		if os.IsNotExist(err) {
			h.log.Warn("plugin directory %s does not exist", h.pluginDir)
			return nil
		}
		return err
	}

	for _, name := range names {
		path := filepath.Join(h.pluginDir, name)
		if err := h.Load(path); err != nil {
			h.log.Error("failed to load plugin %s: %v", name, err)
		}
	}

	return nil
}

// Load starts the plugin binary at path and registers it
func (h *Host) Load(path string) error {
	client := goplugin.NewClient(&goplugin.ClientConfig{
		HandshakeConfig: Handshake,
		Plugins:         PluginMap,
		Cmd:             exec.Command(path),
		AllowedProtocols: []goplugin.Protocol{
			goplugin.ProtocolNetRPC,
		},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return fmt.Errorf("failed to connect to plugin: %w", err)
	}

	raw, err := rpcClient.Dispense(PluginName)
	if err != nil {
		client.Kill()
		return fmt.Errorf("failed to dispense plugin: %w", err)
	}

	p, ok := raw.(Plugin)
	if !ok {
		client.Kill()
		return fmt.Errorf("plugin %s does not implement Plugin", path)
	}

	if err := h.register(p, client); err != nil {
		client.Kill()
		return err
	}
	return nil
}

// Register adds an in-process plugin
func (h *Host) Register(p Plugin) error {
	return h.register(p, nil)
}

func (h *Host) register(p Plugin, client *goplugin.Client) error {
	name := p.Name()
	if name == "" {
		return fmt.Errorf("plugin has no name")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.plugins[name]; ok {
		return fmt.Errorf("plugin already loaded: %s", name)
	}
	h.plugins[name] = &LoadedPlugin{
		Name:    name,
		Version: p.Version(),
		Plugin:  p,
		Client:  client,
	}
	h.log.Info("loaded plugin %s %s", name, p.Version())
	return nil
}

// Unload unloads a plugin
func (h *Host) Unload(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if lp := h.plugins[name]; lp != nil {
		if lp.Client != nil {
			lp.Client.Kill()
		}
		delete(h.plugins, name)
	}
}

// UnloadAll unloads all plugins
func (h *Host) UnloadAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for name, lp := range h.plugins {
		if lp.Client != nil {
			lp.Client.Kill()
		}
		delete(h.plugins, name)
	}
}

// List returns all loaded plugins sorted by name
func (h *Host) List() []*LoadedPlugin {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]*LoadedPlugin, 0, len(h.plugins))
	for _, lp := range h.plugins {
		result = append(result, lp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Get returns a specific plugin
func (h *Host) Get(name string) *LoadedPlugin {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.plugins[name]
}

// Attach forwards every bus event to the loaded plugins
func (h *Host) Attach(bus *events.Bus) {
	bus.SubscribeAll(h.Dispatch)
}

// Dispatch converts ev and hands it to every loaded plugin
func (h *Host) Dispatch(ev events.Event) {
	n, ok := NotificationFor(ev)
	if !ok {
		return
	}

	for _, lp := range h.List() {
		if err := lp.Plugin.Notify(n); err != nil {
			h.log.Warn("plugin %s rejected %s notification: %v", lp.Name, n.Kind, err)
		}
	}
}

// NotificationFor flattens a bus event. Unknown payloads report false.
func NotificationFor(ev events.Event) (Notification, bool) {
	switch d := ev.Data.(type) {
	case message.Inbound:
		n := Notification{
			Kind:        KindMessage,
			JID:         d.From.String(),
			TransportID: d.TransportID,
			Thread:      d.Thread,
			Timestamp:   d.Timestamp,
			Body:        d.Content.PlainText,
			Encrypted:   d.Content.IsEncrypted(),
		}
		if d.Content.Attachment != nil {
			n.Attachment = d.Content.Attachment.URI
		}
		return n, true
	case events.StatusChange:
		return Notification{
			Kind:        KindStatus,
			TransportID: d.TransportID,
			Previous:    d.Previous.String(),
			Current:     d.Current.String(),
		}, true
	case message.ChatStateNotice:
		return Notification{
			Kind:      KindChatState,
			JID:       d.From.String(),
			Thread:    d.Thread,
			Timestamp: d.Timestamp,
			ChatState: d.State,
		}, true
	case events.TransportError:
		return Notification{
			Kind:        KindTransportError,
			TransportID: d.TransportID,
			Condition:   d.Condition,
			Text:        d.Text,
		}, true
	default:
		return Notification{}, false
	}
}
