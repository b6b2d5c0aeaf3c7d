package api

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cascadegeo/featureserv/internal/config"
	"github.com/cascadegeo/featureserv/internal/provider"
)

// reservedParams never become property filters.
var reservedParams = map[string]struct{}{
	"bbox": {}, "f": {}, "limit": {}, "startindex": {},
	"resulttype": {}, "datetime": {}, "sortby": {},
}

// ValidateQuery parses the raw query arguments into a fully validated
// provider query. Any failure is returned eagerly; nothing partially
// validated ever reaches a provider.
func ValidateQuery(args map[string]string, ds *config.Collection, fields map[string]string, serverLimit int) (provider.Query, *Error) {
	q := provider.Query{
		Limit:      serverLimit,
		ResultType: provider.ResultTypeResults,
	}

	// negative startindex is clamped rather than rejected, mirroring the
	// prev-cursor rule which also floors at zero
	if n, err := strconv.Atoi(args["startindex"]); err == nil && n > 0 {
		q.StartIndex = n
	}

	if n, err := strconv.Atoi(args["limit"]); err == nil && n >= 0 {
		q.Limit = n
	}

	if rt := args["resulttype"]; rt != "" {
		q.ResultType = rt
	}

	if raw, ok := args["bbox"]; ok {
		bbox, apiErr := parseBBox(raw)
		if apiErr != nil {
			return provider.Query{}, apiErr
		}
		q.BBox = bbox
	}

	if raw, ok := args["datetime"]; ok && raw != "" {
		tf, apiErr := parseDatetime(raw, ds.Extents.Temporal)
		if apiErr != nil {
			return provider.Query{}, apiErr
		}
		q.Datetime = tf
	}

	if raw, ok := args["sortby"]; ok && raw != "" {
		sortBy, apiErr := parseSortBy(raw, fields)
		if apiErr != nil {
			return provider.Query{}, apiErr
		}
		q.SortBy = sortBy
	}

	q.Properties = propertyFilters(args, fields)
	return q, nil
}

func parseBBox(raw string) ([]float64, *Error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return nil, invalidParameter("bbox values should be minx,miny,maxx,maxy")
	}
	bbox := make([]float64, 4)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, invalidParameter("bbox values should be minx,miny,maxx,maxy")
		}
		bbox[i] = f
	}
	return bbox, nil
}

func parseDatetime(raw string, extent config.TemporalExtent) (provider.TimeFilter, *Error) {
	tf := provider.TimeFilter{Raw: raw}

	if strings.Contains(raw, "/") {
		sides := strings.SplitN(raw, "/", 2)
		begin, apiErr := parseDatetimeSide(sides[0])
		if apiErr != nil {
			return provider.TimeFilter{}, apiErr
		}
		end, apiErr := parseDatetimeSide(sides[1])
		if apiErr != nil {
			return provider.TimeFilter{}, apiErr
		}
		tf.Begin = begin
		tf.End = end

		if outOfExtent(begin, extent) || outOfExtent(end, extent) {
			return provider.TimeFilter{}, invalidParameter("datetime parameter out of range")
		}
		return tf, nil
	}

	t, err := config.ParseTime(raw)
	if err != nil {
		return provider.TimeFilter{}, invalidParameter("datetime parameter invalid: " + raw)
	}
	tf.Instant = &t
	if outOfExtent(&t, extent) {
		return provider.TimeFilter{}, invalidParameter("datetime parameter out of range")
	}
	return tf, nil
}

// parseDatetimeSide parses one side of a range; ".." means unbounded.
func parseDatetimeSide(s string) (*time.Time, *Error) {
	s = strings.TrimSpace(s)
	if s == ".." || s == "" {
		return nil, nil
	}
	t, err := config.ParseTime(s)
	if err != nil {
		return nil, invalidParameter("datetime parameter invalid: " + s)
	}
	return &t, nil
}

// outOfExtent checks a bounded side against the collection's declared
// temporal extent. Unbounded sides (nil) never trigger the check.
func outOfExtent(t *time.Time, extent config.TemporalExtent) bool {
	if t == nil {
		return false
	}
	if b := extent.Begin.Time(); b != nil && t.Before(*b) {
		return true
	}
	if e := extent.End.Time(); e != nil && t.After(*e) {
		return true
	}
	return false
}

func parseSortBy(raw string, fields map[string]string) ([]provider.SortCriterion, *Error) {
	var out []provider.SortCriterion
	for _, s := range strings.Split(raw, ",") {
		crit := provider.SortCriterion{Order: provider.SortAscending}
		if prop, dir, found := strings.Cut(s, ":"); found {
			switch dir {
			case "A":
			case "D":
				crit.Order = provider.SortDescending
			default:
				return nil, invalidParameter("sort order should be A or D")
			}
			crit.Property = prop
		} else {
			crit.Property = s
		}
		out = append(out, crit)
	}
	for _, crit := range out {
		if _, ok := fields[crit.Property]; !ok {
			return nil, invalidParameter("bad sort property")
		}
	}
	return out, nil
}

// propertyFilters forwards non-reserved args naming declared provider
// fields as exact-match filters; anything else is silently dropped. The
// result is ordered by name so downstream cache keys are stable.
func propertyFilters(args map[string]string, fields map[string]string) []provider.PropertyFilter {
	var out []provider.PropertyFilter
	for k, v := range args {
		if _, reserved := reservedParams[k]; reserved {
			continue
		}
		if _, ok := fields[k]; !ok {
			continue
		}
		out = append(out, provider.PropertyFilter{Name: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
