// Package discovery advertises the bridge API over mDNS and browses the
// LAN for other bridges.
//
// The advertisement carries the API port and TXT records naming the
// device id, bridge version and API base path, so dashboards can find the
// bridge without static configuration.
package discovery
