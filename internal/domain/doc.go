// Package domain models the hazard and camera reports shown on the in-vehicle
// map, the vehicle's location stream, and the planned route.
//
// # Coordinates
//
// All positions are WGS-84 and stored as [orb.Point] values, which are
// ordered (longitude, latitude):
//
//	orb.Point{-97.7431, 30.2672}  →  lon -97.7431, lat 30.2672 (Austin, TX)
//
// A [Viewport] is the axis-aligned rectangle currently visible on the map,
// expressed as west/south/east/north edges in degrees. Viewports never cross
// the antimeridian; West must be strictly less than East and South strictly
// less than North.
//
// # Data Sources
//
// Two upstream sources feed the map, each with its own fetch cadence:
//
//	hazards  crowd-sourced, volatile (accidents, police, closures); short TTL
//	cameras  fixed speed / red-light cameras; changes rarely, long TTL
//
// Provider responses are modelled as a closed set of [FetchResult] variants
// ([FetchSuccess], [FetchRateLimited], [FetchFailed]) so consumers can switch
// over every outcome.
//
// # Severity Ranking
//
// When nearby reports are grouped for display, the group is labelled with its
// most severe category. The ranking is fixed:
//
//	accident 7 | road_closed 6 | hazard 5 | police 4 | construction 3 |
//	jam 2 | red_light_camera 2 | speed_camera 1 | weather 1
//
// Categories missing from the table rank 0. See [SeverityRank].
//
// # Location Samples
//
// Samples arrive at device-determined intervals that range from sub-second
// to several seconds. Heading and speed are optional because many devices
// only report them while moving. Samples with non-finite or out-of-range
// coordinates are rejected by [PositionSample.Validate].
package domain
