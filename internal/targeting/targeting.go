// Package targeting fills in missing request targeting dimensions from
// request headers: device class from the User-Agent and geo from the client
// IP. Explicit query parameters always win.
package targeting

import (
	"net"

	"github.com/avct/uasurfer"

	"github.com/admarket/mediator/internal/geoip"
	"github.com/admarket/mediator/internal/models"
)

// Resolver derives targeting defaults. The geo database may be nil, in
// which case geo stays unset unless the request provides it.
type Resolver struct {
	geo *geoip.GeoIP
}

func NewResolver(geo *geoip.GeoIP) *Resolver {
	return &Resolver{geo: geo}
}

// Enrich returns req with empty device and geo fields inferred from the UA
// string and client IP. Fields already set are left alone.
func (r *Resolver) Enrich(req models.TargetingRequest, ua, ip string) models.TargetingRequest {
	if req.Device == "" && ua != "" {
		req.Device = DeviceClass(ua)
	}
	if req.Geo == "" {
		req.Geo = r.geo.Country(net.ParseIP(ip))
	}
	return req
}

// DeviceClass maps a User-Agent to one of desktop, mobile, tablet or other.
func DeviceClass(ua string) string {
	switch uasurfer.Parse(ua).DeviceType {
	case uasurfer.DeviceComputer:
		return "desktop"
	case uasurfer.DevicePhone:
		return "mobile"
	case uasurfer.DeviceTablet:
		return "tablet"
	default:
		return "other"
	}
}
