package opcua

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/JeffersonLab/RFWScopeDAQ/internal/ports"
)

// Config captures the runtime details required to open a session against the
// control-system gateway.
type Config struct {
	Endpoint        string        `yaml:"endpoint"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	SecurityMode    string        `yaml:"security_mode"`
	SecurityPolicy  string        `yaml:"security_policy"`
	ApplicationName string        `yaml:"application_name"`
	PublishInterval time.Duration `yaml:"publish_interval"`

	// NodeTemplate maps a PV name onto a node identifier, e.g. "ns=2;s=%s".
	NodeTemplate string `yaml:"node_template"`
}

func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "RFWScopeDAQ"
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = 100 * time.Millisecond
	}
	if c.NodeTemplate == "" {
		c.NodeTemplate = "ns=1;s=%s"
	}
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if !strings.Contains(c.NodeTemplate, "%s") {
		return fmt.Errorf("node_template %q must contain %%s", c.NodeTemplate)
	}
	return nil
}

// Client implements ports.Client over one OPC UA session. Every bound
// variable gets a monitored item on a shared subscription, which feeds value
// callbacks, connection-state callbacks, and per-variable timestamps.
type Client struct {
	cfg    Config
	client *opcua.Client
	sub    *opcua.Subscription
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	byHandle   map[uint32]*variable
	nextHandle uint32
	closed     bool
}

// Dial connects to the gateway and starts the notification dispatch loop.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := []opcua.Option{
		opcua.SecurityModeString(cfg.SecurityMode),
		opcua.SecurityPolicy(cfg.SecurityPolicy),
		opcua.ApplicationName(cfg.ApplicationName),
		opcua.AutoReconnect(true),
	}
	if cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(cfg.Username, cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}

	client, err := opcua.NewClient(cfg.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("opcua new client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("opcua connect %s: %w", cfg.Endpoint, err)
	}

	dispatchCtx, cancel := context.WithCancel(context.Background())

	notifyCh := make(chan *opcua.PublishNotificationData, 256)
	sub, err := client.Subscribe(dispatchCtx, &opcua.SubscriptionParameters{
		Interval: cfg.PublishInterval,
	}, notifyCh)
	if err != nil {
		cancel()
		_ = client.Close(ctx)
		return nil, fmt.Errorf("opcua subscribe: %w", err)
	}

	c := &Client{
		cfg:      cfg,
		client:   client,
		sub:      sub,
		cancel:   cancel,
		byHandle: make(map[uint32]*variable),
	}

	c.wg.Add(1)
	go c.dispatch(dispatchCtx, notifyCh)

	return c, nil
}

// Connect binds one named variable. The monitored item created here is what
// drives the variable's connection state and update timestamps.
func (c *Client) Connect(ctx context.Context, name string) (ports.Variable, error) {
	nodeID, err := ua.ParseNodeID(fmt.Sprintf(c.cfg.NodeTemplate, name))
	if err != nil {
		return nil, fmt.Errorf("parse node id for %q: %w", name, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.New("client is closed")
	}
	c.nextHandle++
	handle := c.nextHandle
	c.mu.Unlock()

	v := &variable{
		name:   name,
		nodeID: nodeID,
		client: c,
	}

	req := opcua.NewMonitoredItemCreateRequestWithDefaults(nodeID, ua.AttributeIDValue, handle)
	res, err := c.sub.Monitor(ctx, ua.TimestampsToReturnBoth, req)
	if err != nil {
		return nil, fmt.Errorf("monitor %q: %w", name, err)
	}
	if len(res.Results) == 0 {
		return nil, fmt.Errorf("monitor %q failed: empty result", name)
	}
	if res.Results[0].StatusCode != ua.StatusOK {
		return nil, fmt.Errorf("monitor %q failed: %s", name, res.Results[0].StatusCode)
	}

	v.setConnected(true)

	c.mu.Lock()
	c.byHandle[handle] = v
	c.mu.Unlock()

	return v, nil
}

// Close tears down the subscription, the session, and the dispatch loop.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()

	var err error
	if e := c.sub.Cancel(ctx); e != nil && !errors.Is(e, context.Canceled) {
		err = errors.Join(err, e)
	}
	if e := c.client.Close(ctx); e != nil && !errors.Is(e, context.Canceled) {
		err = errors.Join(err, e)
	}
	c.wg.Wait()
	return err
}

func (c *Client) dispatch(ctx context.Context, ch <-chan *opcua.PublishNotificationData) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case notif := <-ch:
			if notif == nil {
				continue
			}
			if notif.Error != nil {
				// Publish errors affect the whole subscription; every bound
				// variable is suspect until data flows again.
				c.markAllDisconnected()
				continue
			}
			if data, ok := notif.Value.(*ua.DataChangeNotification); ok {
				c.processDataChange(data)
			}
		}
	}
}

func (c *Client) processDataChange(data *ua.DataChangeNotification) {
	for _, item := range data.MonitoredItems {
		c.mu.Lock()
		v, ok := c.byHandle[item.ClientHandle]
		c.mu.Unlock()
		if !ok || item.Value == nil {
			continue
		}

		if item.Value.Status != ua.StatusOK {
			v.setConnected(false)
			continue
		}

		ts := item.Value.SourceTimestamp
		if ts.IsZero() {
			ts = item.Value.ServerTimestamp
		}
		if ts.IsZero() {
			ts = time.Now()
		}

		var val any
		if item.Value.Value != nil {
			val = item.Value.Value.Value()
		}
		v.deliver(val, ts)
	}
}

func (c *Client) markAllDisconnected() {
	c.mu.Lock()
	vars := make([]*variable, 0, len(c.byHandle))
	for _, v := range c.byHandle {
		vars = append(vars, v)
	}
	c.mu.Unlock()
	for _, v := range vars {
		v.setConnected(false)
	}
}

// variable is one bound PV. Its mutable state is written by the dispatch
// goroutine and read by the owning worker.
type variable struct {
	name   string
	nodeID *ua.NodeID
	client *Client

	mu         sync.Mutex
	connected  bool
	last       any
	lastUpdate time.Time
	onUpdate   func(ports.Update)
	onConn     func(bool)
}

func (v *variable) Name() string { return v.name }

func (v *variable) Connected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.connected
}

func (v *variable) LastUpdate() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastUpdate
}

// Get performs a fresh read against the server rather than returning the
// last monitored value; waveform records must not be served from a stale
// subscription cache.
func (v *variable) Get(ctx context.Context) (any, error) {
	resp, err := v.client.client.Read(ctx, &ua.ReadRequest{
		MaxAge:             0,
		TimestampsToReturn: ua.TimestampsToReturnBoth,
		NodesToRead: []*ua.ReadValueID{
			{NodeID: v.nodeID, AttributeID: ua.AttributeIDValue},
		},
	})
	if err != nil {
		v.setConnected(false)
		return nil, fmt.Errorf("read %q: %w", v.name, err)
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("read %q: empty result", v.name)
	}
	dv := resp.Results[0]
	if dv.Status != ua.StatusOK {
		return nil, fmt.Errorf("read %q: %s", v.name, dv.Status)
	}
	if dv.Value == nil || dv.Value.Value() == nil {
		return nil, fmt.Errorf("error retrieving PV value %q", v.name)
	}

	ts := dv.SourceTimestamp
	if ts.IsZero() {
		ts = dv.ServerTimestamp
	}
	val := dv.Value.Value()

	v.mu.Lock()
	v.last = val
	if !ts.IsZero() {
		v.lastUpdate = ts
	}
	v.mu.Unlock()

	return val, nil
}

// Put writes a value. The write service confirms processing in its response,
// so both wait modes are synchronous; wait is part of the port contract for
// clients that do distinguish.
func (v *variable) Put(ctx context.Context, value any, wait bool) error {
	variant, err := ua.NewVariant(value)
	if err != nil {
		return fmt.Errorf("write %q: encode %v: %w", v.name, value, err)
	}
	resp, err := v.client.client.Write(ctx, &ua.WriteRequest{
		NodesToWrite: []*ua.WriteValue{
			{
				NodeID:      v.nodeID,
				AttributeID: ua.AttributeIDValue,
				Value: &ua.DataValue{
					EncodingMask: ua.DataValueValue,
					Value:        variant,
				},
			},
		},
	})
	if err != nil {
		v.setConnected(false)
		return fmt.Errorf("write %q: %w", v.name, err)
	}
	if len(resp.Results) == 0 {
		return fmt.Errorf("write %q: empty result", v.name)
	}
	if resp.Results[0] != ua.StatusOK {
		return fmt.Errorf("write %q: %s", v.name, resp.Results[0])
	}
	return nil
}

func (v *variable) Subscribe(onUpdate func(ports.Update), onConn func(bool)) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.onUpdate != nil || v.onConn != nil {
		return fmt.Errorf("variable %q already subscribed", v.name)
	}
	v.onUpdate = onUpdate
	v.onConn = onConn
	return nil
}

func (v *variable) deliver(val any, ts time.Time) {
	v.mu.Lock()
	v.last = val
	v.lastUpdate = ts
	if !v.connected {
		v.connected = true
		if cb := v.onConn; cb != nil {
			v.mu.Unlock()
			cb(true)
			v.mu.Lock()
		}
	}
	cb := v.onUpdate
	v.mu.Unlock()

	if cb != nil {
		cb(ports.Update{Value: val, Timestamp: ts})
	}
}

func (v *variable) setConnected(conn bool) {
	v.mu.Lock()
	changed := v.connected != conn
	v.connected = conn
	cb := v.onConn
	v.mu.Unlock()

	if changed && cb != nil {
		cb(conn)
	}
}

var _ ports.Client = (*Client)(nil)
var _ ports.Variable = (*variable)(nil)
