package roomwatch

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jpalmerr/roomwatch/internal/poller"
	"github.com/jpalmerr/roomwatch/internal/store"
)

const (
	defaultDevicesPath    = "/devices"
	defaultAttendancePath = "/attendance/records"
)

// source describes one snapshot endpoint of the backend API.
type source struct {
	rt       store.ResourceType
	path     string
	query    url.Values
	listKey  string
	idFields []string
	interval time.Duration
}

func devicesSource(path string, interval time.Duration) source {
	return source{
		rt:       store.ResourceDevice,
		path:     path,
		listKey:  "devices",
		idFields: []string{"device_id", "id"},
		interval: interval,
	}
}

func attendanceSource(path string, interval time.Duration, limit int) source {
	return source{
		rt:       store.ResourceAttendanceRecord,
		path:     path,
		query:    url.Values{"limit": []string{strconv.Itoa(limit)}},
		listKey:  "records",
		idFields: []string{"id", "record_id"},
		interval: interval,
	}
}

// url joins the source path onto the API base URL.
func (s source) url(base string) string {
	u := strings.TrimRight(base, "/") + "/" + strings.TrimLeft(s.path, "/")
	if len(s.query) > 0 {
		u += "?" + s.query.Encode()
	}
	return u
}

// items keys each decoded object by the first non-empty id field.
func (s source) items(objs []map[string]any) []poller.Item {
	items := make([]poller.Item, len(objs))
	for i, obj := range objs {
		var id string
		for _, f := range s.idFields {
			if id = poller.IDString(obj[f]); id != "" {
				break
			}
		}
		items[i] = poller.Item{ID: id, Payload: obj}
	}
	return items
}

// fetchFunc returns the poller fetch for this source.
func (s source) fetchFunc(client *poller.Client, base string, headers map[string]string, timeout time.Duration) poller.FetchFunc {
	target := s.url(base)
	return func(ctx context.Context) ([]poller.Item, error) {
		objs, err := client.FetchList(ctx, target, headers, timeout, s.listKey)
		if err != nil {
			return nil, err
		}
		return s.items(objs), nil
	}
}
