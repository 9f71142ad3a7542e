package aggregator

import "strings"

// MeasurementID identifies one sample series: a base measurement ("iops") plus an optional
// qualifier such as the data direction ("read").
type MeasurementID struct {
	Base      string
	Qualifier string
}

func NewMeasurementID(base, qualifier string) MeasurementID {
	return MeasurementID{Base: base, Qualifier: qualifier}
}

func (id MeasurementID) String() string {
	if id.Qualifier == "" {
		return id.Base
	}
	return id.Base + "_" + id.Qualifier
}

// ParseMeasurementID splits s on its last underscore if the suffix is one of qualifiers, so that
// "cpu_utilization_vmm" stays a bare base while "iops_read" becomes {iops, read}.
func ParseMeasurementID(s string, qualifiers ...string) MeasurementID {
	i := strings.LastIndex(s, "_")
	if i < 0 {
		return MeasurementID{Base: s}
	}
	for _, q := range qualifiers {
		if s[i+1:] == q {
			return MeasurementID{Base: s[:i], Qualifier: q}
		}
	}
	return MeasurementID{Base: s}
}
