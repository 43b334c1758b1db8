package metrics

import (
	"fmt"
	"path"
	"reflect"
)

// metricAdder allocates a measure for a tagged field, located under group
type metricAdder func(field interface{}, metric, group string, tags map[string]string) interface{}

// supported struct tags, with the key they are decoded to
//   - metric: the metric name
//   - unit: count (default), bytes, sumbytes, milliseconds, bytespersec
//   - group: builds an additional path to the metric (e.g. tablemon/cli/telemetry/{metric})
//   - description: adds this description to the metric and the associated views
//   - extraviews: builds additional views with alternate aggregators (sum, count, lastvalue)
//   - tags: tag keys used to group measurements in views
var structTags = map[string]string{
	"metric":      "metric",
	"unit":        "unit",
	"group":       "group",
	"description": "description",
	"extraviews":  "views",
	"tags":        "groupings",
}

func equalType(a, b interface{}) bool {
	return reflect.TypeOf(a) == reflect.TypeOf(b)
}

// scanStruct allocates all the measures declared by the struct tags of m, which must
// be a pointer to a struct.
func scanStruct(parent string, adder metricAdder, m interface{}) {
	rv := reflect.ValueOf(m)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		panic(fmt.Sprintf("scanStruct requires a pointer to a struct, got: %T", m))
	}
	scanValue(parent, adder, rv.Elem())
}

// scanValue walks an addressable struct value. Nested structs (or pointers to structs)
// without a metric tag build a sub-tree of metrics.
func scanValue(parent string, adder metricAdder, sv reflect.Value) {
	st := sv.Type()
	for i := 0; i < st.NumField(); i++ {
		field := st.Field(i)
		fv := sv.Field(i)
		if !field.IsExported() || !fv.CanSet() {
			continue
		}

		tags := fieldTags(field)
		group := path.Join(parent, tags["group"])

		if tags["metric"] == "" {
			scanNested(group, adder, fv)
			continue
		}

		if fv.Kind() != reflect.Ptr {
			continue
		}
		if allocated := adder(fv.Interface(), tags["metric"], group, tags); allocated != nil {
			fv.Set(reflect.ValueOf(allocated))
		}
	}
}

func scanNested(group string, adder metricAdder, fv reflect.Value) {
	switch {
	case fv.Kind() == reflect.Struct:
		scanValue(group, adder, fv)
	case fv.Kind() == reflect.Ptr && fv.Type().Elem().Kind() == reflect.Struct:
		if fv.IsNil() {
			fv.Set(reflect.New(fv.Type().Elem()))
		}
		scanValue(group, adder, fv.Elem())
	}
	// maps, slices and other kinds are not scanned
}

func fieldTags(field reflect.StructField) map[string]string {
	tags := make(map[string]string, len(structTags))
	for structTag, key := range structTags {
		if value, ok := field.Tag.Lookup(structTag); ok {
			tags[key] = value
		}
	}
	return tags
}
