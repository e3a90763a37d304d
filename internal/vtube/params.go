package vtube

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ent0n29/vtutor/internal/observability"
	"github.com/ent0n29/vtutor/internal/protocol"
)

const (
	ParamLimit          = 1_000_000
	paramNameMin        = 4
	paramNameMax        = 32
	paramExplanationMax = 256
)

// Descriptor declares one custom avatar parameter.
type Descriptor struct {
	Name        string  `yaml:"name" json:"name"`
	Explanation string  `yaml:"explanation" json:"explanation"`
	Min         float64 `yaml:"min" json:"min"`
	Max         float64 `yaml:"max" json:"max"`
	Default     float64 `yaml:"default" json:"default"`
}

// Validate applies the server's naming and bounds rules locally.
func (d Descriptor) Validate() error {
	if n := len(d.Name); n < paramNameMin || n > paramNameMax {
		return invalid("name", "%q must be %d-%d characters, got %d", d.Name, paramNameMin, paramNameMax, n)
	}
	for _, r := range d.Name {
		if !isASCIIAlnum(r) {
			return invalid("name", "%q must be alphanumeric", d.Name)
		}
	}
	if len(d.Explanation) >= paramExplanationMax {
		return invalid("explanation", "must be shorter than %d characters", paramExplanationMax)
	}
	for _, b := range []struct {
		field string
		v     float64
	}{{"min", d.Min}, {"max", d.Max}, {"default", d.Default}} {
		if err := checkLimit(b.field, b.v); err != nil {
			return err
		}
	}
	if d.Min > d.Max {
		return invalid("min", "%v exceeds max %v", d.Min, d.Max)
	}
	if d.Default < d.Min || d.Default > d.Max {
		return invalid("default", "%v outside [%v, %v]", d.Default, d.Min, d.Max)
	}
	return nil
}

func checkLimit(field string, v float64) error {
	if math.IsNaN(v) || v < -ParamLimit || v > ParamLimit {
		return invalid(field, "%v outside [-%d, %d]", v, ParamLimit, ParamLimit)
	}
	return nil
}

func isASCIIAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// Registry holds the declared parameters and their current local values.
type Registry struct {
	log     zerolog.Logger
	metrics *observability.Metrics

	descriptors []Descriptor
	index       map[string]int

	mu     sync.RWMutex
	values map[string]float64
}

func NewRegistry(descriptors []Descriptor, log zerolog.Logger, metrics *observability.Metrics) (*Registry, error) {
	r := &Registry{
		log:         log,
		metrics:     metrics,
		descriptors: make([]Descriptor, 0, len(descriptors)),
		index:       make(map[string]int, len(descriptors)),
		values:      make(map[string]float64, len(descriptors)),
	}
	for _, d := range descriptors {
		if _, dup := r.index[d.Name]; dup {
			return nil, invalid("name", "duplicate parameter %q", d.Name)
		}
		r.index[d.Name] = len(r.descriptors)
		r.descriptors = append(r.descriptors, d)
		r.values[d.Name] = d.Default
	}
	return r, nil
}

func (r *Registry) Descriptors() []Descriptor {
	return append([]Descriptor(nil), r.descriptors...)
}

func (r *Registry) Descriptor(name string) (Descriptor, bool) {
	i, ok := r.index[name]
	if !ok {
		return Descriptor{}, false
	}
	return r.descriptors[i], true
}

// Setup creates every declared parameter missing on the server. All
// descriptors are validated before any request is sent.
func (r *Registry) Setup(ctx context.Context, s Sender) error {
	for _, d := range r.descriptors {
		if err := d.Validate(); err != nil {
			return err
		}
	}

	resp, err := s.Send(ctx, protocol.NewRequest(protocol.TypeInputParameterListRequest, nil))
	if err != nil {
		return err
	}
	var list protocol.InputParameterListResponse
	if err := resp.Expect(protocol.TypeInputParameterListResponse, &list); err != nil {
		return fmt.Errorf("list parameters: %w", err)
	}
	existing := make(map[string]struct{}, len(list.CustomParameters))
	for _, p := range list.CustomParameters {
		existing[p.Name] = struct{}{}
	}

	for _, d := range r.descriptors {
		if _, ok := existing[d.Name]; ok {
			continue
		}
		if err := r.Create(ctx, s, d); err != nil {
			return err
		}
	}
	return nil
}

// Create validates d and registers it server-side.
func (r *Registry) Create(ctx context.Context, s Sender, d Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	resp, err := s.Send(ctx, protocol.NewRequest(protocol.TypeParameterCreationRequest, protocol.ParameterCreationRequest{
		ParameterName: d.Name,
		Explanation:   d.Explanation,
		Min:           d.Min,
		Max:           d.Max,
		DefaultValue:  d.Default,
	}))
	if err != nil {
		return err
	}
	if err := resp.Expect(protocol.TypeParameterCreationResponse, nil); err != nil {
		return fmt.Errorf("create parameter %s: %w", d.Name, err)
	}
	r.log.Info().Str("parameter", d.Name).Msg("custom parameter created")
	return nil
}

// Set records a value locally. Unknown names are logged and ignored;
// values outside the declared range are rejected.
func (r *Registry) Set(name string, value float64) error {
	d, ok := r.Descriptor(name)
	if !ok {
		r.log.Warn().Str("parameter", name).Msg("ignoring value for undeclared parameter")
		return nil
	}
	if math.IsNaN(value) || value < d.Min || value > d.Max {
		return invalid("value", "%s=%v outside [%v, %v]", name, value, d.Min, d.Max)
	}
	r.mu.Lock()
	r.values[name] = value
	r.mu.Unlock()
	return nil
}

func (r *Registry) Value(name string) (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[name]
	return v, ok
}

// Values returns a copy of the value table.
func (r *Registry) Values() map[string]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]float64, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// Inject sends the whole value table in one InjectParameterDataRequest.
func (r *Registry) Inject(ctx context.Context, s Sender) error {
	r.mu.RLock()
	batch := make([]protocol.ParameterValue, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		batch = append(batch, protocol.ParameterValue{ID: d.Name, Value: r.values[d.Name]})
	}
	r.mu.RUnlock()

	for _, pv := range batch {
		if err := checkLimit("value", pv.Value); err != nil {
			return err
		}
	}
	resp, err := s.Send(ctx, protocol.NewRequest(protocol.TypeInjectParameterDataRequest, protocol.InjectParameterDataRequest{
		FaceFound:       false,
		Mode:            "set",
		ParameterValues: batch,
	}))
	if err != nil {
		return err
	}
	if err := resp.Expect(protocol.TypeInjectParameterDataResponse, nil); err != nil {
		return fmt.Errorf("inject parameters: %w", err)
	}
	r.metrics.IncInject()
	return nil
}

// LiveValue asks the server for one parameter's current value.
func (r *Registry) LiveValue(ctx context.Context, s Sender, name string) (float64, error) {
	resp, err := s.Send(ctx, protocol.NewRequest(protocol.TypeParameterValueRequest, protocol.ParameterValueRequest{Name: name}))
	if err != nil {
		return 0, err
	}
	var out protocol.Parameter
	if err := resp.Expect(protocol.TypeParameterValueResponse, &out); err != nil {
		return 0, fmt.Errorf("get parameter %s: %w", name, err)
	}
	return out.Value, nil
}

// LiveValues queries each declared parameter one request at a time.
func (r *Registry) LiveValues(ctx context.Context, s Sender) (map[string]float64, error) {
	out := make(map[string]float64, len(r.descriptors))
	for _, d := range r.descriptors {
		v, err := r.LiveValue(ctx, s, d.Name)
		if err != nil {
			return nil, err
		}
		out[d.Name] = v
	}
	return out, nil
}
