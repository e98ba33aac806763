package audio

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

const monitorSuffix = ".monitor"

// Endpoint describes one Pulse sink or source.
type Endpoint struct {
	ID          string
	Description string
	Default     bool
}

// DisplayName is the name surfaced to users and stored in channel records.
func (e Endpoint) DisplayName() string {
	if strings.TrimSpace(e.Description) != "" {
		return e.Description
	}
	return e.ID
}

// Pulse implements Backend against a PulseAudio-compatible server. Every
// stream owns its own client connection so closing one route never tears
// down another.
type Pulse struct {
	appName string
}

// NewPulse returns a backend that identifies itself as appName.
func NewPulse(appName string) *Pulse {
	if strings.TrimSpace(appName) == "" {
		appName = "vice"
	}
	return &Pulse{appName: appName}
}

func (p *Pulse) connect() (*pulse.Client, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName(p.appName),
		pulse.ClientApplicationIconName("audio-card"),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}
	return client, nil
}

// Outputs lists sinks by display name.
func (p *Pulse) Outputs(ctx context.Context) ([]string, error) {
	sinks, err := p.Sinks(ctx)
	if err != nil {
		return nil, err
	}
	return displayNames(sinks), nil
}

// Inputs lists capture sources by display name, excluding sink monitors.
func (p *Pulse) Inputs(ctx context.Context) ([]string, error) {
	sources, err := p.Sources(ctx)
	if err != nil {
		return nil, err
	}
	return displayNames(sources), nil
}

// Applications lists applications currently playing audio.
func (p *Pulse) Applications(_ context.Context) ([]string, error) {
	inputs, err := p.sinkInputs()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(inputs))
	names := make([]string, 0, len(inputs))
	for _, info := range inputs {
		if info == nil {
			continue
		}
		name := applicationName(info.Properties)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// ApplicationPresent reports whether any sink input belongs to app, by
// application name or process binary.
func (p *Pulse) ApplicationPresent(_ context.Context, app string) (bool, error) {
	inputs, err := p.sinkInputs()
	if err != nil {
		return false, err
	}
	return anyApplicationMatches(inputs, app), nil
}

func (p *Pulse) sinkInputs() (pulseproto.GetSinkInputInfoListReply, error) {
	client, err := p.connect()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	var inputs pulseproto.GetSinkInputInfoListReply
	if err := client.RawRequest(&pulseproto.GetSinkInputInfoList{}, &inputs); err != nil {
		return nil, fmt.Errorf("list sink inputs: %w", err)
	}
	return inputs, nil
}

func anyApplicationMatches(inputs pulseproto.GetSinkInputInfoListReply, app string) bool {
	for _, info := range inputs {
		if info != nil && applicationMatches(info.Properties, app) {
			return true
		}
	}
	return false
}

// Sinks returns every output sink with default metadata.
func (p *Pulse) Sinks(_ context.Context) ([]Endpoint, error) {
	client, err := p.connect()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	sinks, err := client.ListSinks()
	if err != nil {
		return nil, fmt.Errorf("list sinks: %w", err)
	}
	defaultID := ""
	if sink, err := client.DefaultSink(); err == nil && sink != nil {
		defaultID = sink.ID()
	}

	endpoints := make([]Endpoint, 0, len(sinks))
	for _, sink := range sinks {
		if sink == nil {
			continue
		}
		endpoints = append(endpoints, Endpoint{
			ID:          sink.ID(),
			Description: sink.Name(),
			Default:     sink.ID() == defaultID,
		})
	}
	return endpoints, nil
}

// Sources returns capture sources with default metadata, skipping monitors.
func (p *Pulse) Sources(_ context.Context) ([]Endpoint, error) {
	client, err := p.connect()
	if err != nil {
		return nil, err
	}
	defer client.Close()
	return listSources(client)
}

func listSources(client *pulse.Client) ([]Endpoint, error) {
	sources, err := client.ListSources()
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defaultID := ""
	if source, err := client.DefaultSource(); err == nil && source != nil {
		defaultID = source.ID()
	}

	endpoints := make([]Endpoint, 0, len(sources))
	for _, source := range sources {
		if source == nil || strings.HasSuffix(source.ID(), monitorSuffix) {
			continue
		}
		endpoints = append(endpoints, Endpoint{
			ID:          source.ID(),
			Description: source.Name(),
			Default:     source.ID() == defaultID,
		})
	}
	return endpoints, nil
}

// OpenCapture resolves source and starts a record stream in cfg.Format.
func (p *Pulse) OpenCapture(_ context.Context, source Source, cfg StreamConfig) (CaptureStream, error) {
	client, err := p.connect()
	if err != nil {
		return nil, err
	}

	var target pulse.RecordOption
	switch source.Kind {
	case SourceApplication:
		sink, err := applicationSink(client, source.Name)
		if err != nil {
			client.Close()
			return nil, err
		}
		target = pulse.RecordMonitor(sink)
	default:
		src, err := resolveSource(client, source.Name)
		if err != nil {
			client.Close()
			return nil, err
		}
		target = pulse.RecordSource(src)
	}

	capture, err := startPulseCapture(client, target, cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	return capture, nil
}

// OpenRender resolves device and starts a playback stream in cfg.Format.
func (p *Pulse) OpenRender(_ context.Context, device string, cfg StreamConfig) (RenderStream, error) {
	client, err := p.connect()
	if err != nil {
		return nil, err
	}

	sink, err := resolveSink(client, device)
	if err != nil {
		client.Close()
		return nil, err
	}

	render, err := startPulseRender(client, sink, cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	return render, nil
}

func resolveSource(client *pulse.Client, name string) (*pulse.Source, error) {
	if isDefaultName(name) {
		source, err := client.DefaultSource()
		if err != nil {
			return nil, fmt.Errorf("%w: default source: %v", ErrSourceUnavailable, err)
		}
		return source, nil
	}

	endpoints, err := listSources(client)
	if err != nil {
		return nil, err
	}
	endpoint, ok := selectEndpoint(endpoints, name)
	if !ok {
		return nil, fmt.Errorf("%w: input %q did not match any source", ErrSourceUnavailable, name)
	}
	source, err := client.SourceByID(endpoint.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve source %q: %v", ErrSourceUnavailable, endpoint.ID, err)
	}
	return source, nil
}

func resolveSink(client *pulse.Client, name string) (*pulse.Sink, error) {
	if isDefaultName(name) {
		sink, err := client.DefaultSink()
		if err != nil {
			return nil, fmt.Errorf("%w: default sink: %v", ErrDeviceUnavailable, err)
		}
		return sink, nil
	}

	sinks, err := client.ListSinks()
	if err != nil {
		return nil, fmt.Errorf("list sinks: %w", err)
	}
	endpoints := make([]Endpoint, 0, len(sinks))
	byID := make(map[string]*pulse.Sink, len(sinks))
	for _, sink := range sinks {
		if sink == nil {
			continue
		}
		endpoints = append(endpoints, Endpoint{ID: sink.ID(), Description: sink.Name()})
		byID[sink.ID()] = sink
	}
	endpoint, ok := selectEndpoint(endpoints, name)
	if !ok {
		return nil, fmt.Errorf("%w: output %q did not match any sink", ErrDeviceUnavailable, name)
	}
	return byID[endpoint.ID], nil
}

// applicationSink finds the sink an application plays into so its monitor can
// be recorded.
func applicationSink(client *pulse.Client, app string) (*pulse.Sink, error) {
	var inputs pulseproto.GetSinkInputInfoListReply
	if err := client.RawRequest(&pulseproto.GetSinkInputInfoList{}, &inputs); err != nil {
		return nil, fmt.Errorf("list sink inputs: %w", err)
	}

	sinkIndex, found := uint32(0), false
	for _, info := range inputs {
		if info != nil && applicationMatches(info.Properties, app) {
			sinkIndex, found = info.SinkIndex, true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: application %q is not playing audio", ErrSourceUnavailable, app)
	}

	var sinks pulseproto.GetSinkInfoListReply
	if err := client.RawRequest(&pulseproto.GetSinkInfoList{}, &sinks); err != nil {
		return nil, fmt.Errorf("list sink info: %w", err)
	}
	for _, info := range sinks {
		if info == nil || info.SinkIndex != sinkIndex {
			continue
		}
		sink, err := client.SinkByID(info.SinkName)
		if err != nil {
			return nil, fmt.Errorf("%w: resolve sink %q: %v", ErrSourceUnavailable, info.SinkName, err)
		}
		return sink, nil
	}
	return nil, fmt.Errorf("%w: sink %d for application %q vanished", ErrSourceUnavailable, sinkIndex, app)
}

var applicationKeys = []string{"application.name", "application.process.binary"}

func applicationName(props pulseproto.PropList) string {
	for _, key := range applicationKeys {
		if v, ok := props[key]; ok {
			if name := propString(v); name != "" {
				return name
			}
		}
	}
	return ""
}

func applicationMatches(props pulseproto.PropList, app string) bool {
	app = strings.TrimSpace(app)
	if app == "" {
		return false
	}
	for _, key := range applicationKeys {
		v, ok := props[key]
		if !ok {
			continue
		}
		if sameApplication(propString(v), app) {
			return true
		}
	}
	return false
}

// sameApplication compares names case-insensitively, ignoring an executable
// extension on either side.
func sameApplication(a, b string) bool {
	trim := func(s string) string {
		s = strings.ToLower(strings.TrimSpace(s))
		return strings.TrimSuffix(s, ".exe")
	}
	return a != "" && trim(a) == trim(b)
}

func propString(v pulseproto.PropListEntry) string {
	return strings.TrimSpace(strings.TrimRight(v.String(), "\x00"))
}

// selectEndpoint matches a user term against ids then descriptions, exact
// matches first and substrings last.
func selectEndpoint(endpoints []Endpoint, term string) (Endpoint, bool) {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return Endpoint{}, false
	}
	for _, e := range endpoints {
		if strings.ToLower(e.ID) == term {
			return e, true
		}
	}
	for _, e := range endpoints {
		if strings.ToLower(e.Description) == term {
			return e, true
		}
	}
	for _, e := range endpoints {
		if endpointMatches(e, term) {
			return e, true
		}
	}
	return Endpoint{}, false
}

// endpointMatches reports whether a lowercase term is contained in an id or description.
func endpointMatches(e Endpoint, term string) bool {
	if term == "" {
		return false
	}
	return strings.Contains(strings.ToLower(e.ID), term) ||
		strings.Contains(strings.ToLower(e.Description), term)
}

func isDefaultName(name string) bool {
	name = strings.TrimSpace(name)
	return name == "" || strings.EqualFold(name, "default")
}

func displayNames(endpoints []Endpoint) []string {
	names := make([]string, 0, len(endpoints))
	for _, e := range endpoints {
		names = append(names, e.DisplayName())
	}
	return names
}

// IsUnavailable reports whether err means a source or device could not be bound.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrSourceUnavailable) || errors.Is(err, ErrDeviceUnavailable)
}
