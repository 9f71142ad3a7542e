package baseline

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/mitchellh/mapstructure"
)

const DefaultKeyTemplate = "{measurement}/{kernel}/{rootfs}/{statistic}/{config}"

var placeholderRe = regexp.MustCompile(`\{([a-z_]+)\}`)

// Resolver looks baselines up in the tree of one CPU model. The levels below the CPU come from a
// key template whose placeholders are filled by the fixed vars (kernel, rootfs, config, ...) given
// at construction plus the measurement and statistic given to Get.
type Resolver struct {
	tree     CPUBaselines
	segments []string
	vars     map[string]string
	logger   *slog.Logger
}

// NewResolver fails only when the template refers to a variable nobody provides. An unknown CPU
// model is not an error: every lookup then returns nil.
func NewResolver(doc Document, cpuModel string, template string, vars map[string]string) (*Resolver, error) {
	if template == "" {
		template = DefaultKeyTemplate
	}

	v := map[string]string{}
	for k, val := range vars {
		v[k] = val
	}

	segments := strings.Split(template, "/")
	for _, seg := range segments {
		if seg == "" {
			return nil, fmt.Errorf("baseline key template %q has an empty level", template)
		}
		for _, m := range placeholderRe.FindAllStringSubmatch(seg, -1) {
			name := m[1]
			if name == "measurement" || name == "statistic" {
				continue
			}
			if _, ok := v[name]; !ok {
				return nil, fmt.Errorf("baseline key template uses {%s} but no value was given", name)
			}
		}
	}

	return &Resolver{
		tree:     doc.ForModel(cpuModel),
		segments: segments,
		vars:     v,
		logger:   slog.Default(),
	}, nil
}

// WithLogger sets the logger malformed leaves are reported to.
func (r *Resolver) WithLogger(l *slog.Logger) *Resolver {
	r.logger = l
	return r
}

// Path returns the levels walked for (measurement, statistic), below the CPU model.
func (r *Resolver) Path(measurement, statistic string) []string {
	path := make([]string, len(r.segments))
	for i, seg := range r.segments {
		path[i] = placeholderRe.ReplaceAllStringFunc(seg, func(p string) string {
			switch name := p[1 : len(p)-1]; name {
			case "measurement":
				return measurement
			case "statistic":
				return statistic
			default:
				return r.vars[name]
			}
		})
	}
	return path
}

func (r *Resolver) Get(measurement string, statistic string) *Entry {
	if r.tree == nil {
		return nil
	}

	path := r.Path(measurement, statistic)
	var node any = map[string]any(r.tree)
	for _, level := range path {
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node, ok = m[level]
		if !ok {
			return nil
		}
	}

	spec, err := decodeSpec(node)
	if err != nil {
		r.logger.Warn("ignoring malformed baseline",
			slog.String("key", strings.Join(path, "/")),
			slog.String("error", err.Error()))
		return nil
	}
	return spec.Entry()
}

func decodeSpec(node any) (Spec, error) {
	var spec Spec
	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata: &md,
		Result:   &spec,
	})
	if err != nil {
		return spec, err
	}
	err = dec.Decode(node)
	if err != nil {
		return spec, err
	}
	if len(md.Unset) > 0 {
		return spec, fmt.Errorf("missing fields %v", md.Unset)
	}
	return spec, nil
}
