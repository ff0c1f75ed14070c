// Package domain models the landslide/rainfall join: event points, mapping-unit
// polygons, and the rainfall statistics attached to each unit.
//
// # Data Sources
//
// Event points come from the ITALICA rainfall-induced landslide catalogue
// (https://doi.org/10.5281/zenodo.8009366). Mapping-unit polygons are slope
// units or grid cells produced for susceptibility modelling. Precipitation comes
// from two satellite products, addressed by asset identifier:
//
//	gsmap   JAXA/GPM_L3/GSMaP/v8/operational  band hourlyPrecipRateGC  scale 1000 m
//	chirps  UCSB-CHG/CHIRPS/DAILY              band precipitation       scale 5000 m
//
// # Date Conventions
//
// Event timestamps arrive in one of three shapes, tried in this order:
//
//	formatted_date  "2015-03-12 09:45:30"     already local, used as-is
//	utc_date        "2015-03-12T07:45:30Z"    [0:10] date, [11:13] hh, [14:16] mm, [17:19] ss
//	id + start_time "20150312_0042", 745      YYYYMMDD prefix, HHMM packed as hh*100+mm
//
// Raw forms are shifted by a fixed +2h to local civil time. The offset is a
// static convention, not a timezone database lookup. A missing seconds field
// defaults to 00; anything shorter or non-numeric resolves to absent.
//
// # Windows
//
//	trailing N   [t - N days, t)    sum over time, then zonal mean; temporal stddev, then zonal mean
//	single_day   local day of t     first layer, zonal mean+stdDev, then min+max
//
// # Attribute Names
//
//	{Quantity}_{N}d_mean, {Quantity}_{N}d_std        trailing windows
//	{Quantity}_mean, _std, _min, _max                 single-day windows
//	presence_flag, match_count, match_ids             spatial join
//	rain_status                                       computed | fallback | unavailable
//
// A feature without a timestamp gets every rainfall attribute set to 0
// (fallback). A feature whose archive requests failed gets them set to null
// (unavailable). Consumers can tell the two apart by rain_status.
package domain
