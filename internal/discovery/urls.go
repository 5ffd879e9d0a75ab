package discovery

import (
	"regexp"
	"strings"
)

var productIDRe = regexp.MustCompile(`/produkty/(\d+)`)

// Slug extracts the product slug from a listing link href. The slug is the
// full path remainder after /produkty/, e.g.
// "/produkty/119768/cannabis-flos" -> "119768/cannabis-flos". Query and
// fragment parts are discarded.
func Slug(href string) string {
	_, rest, found := strings.Cut(href, "/produkty/")
	if !found {
		return ""
	}
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}
	return strings.Trim(rest, "/")
}

// ProductID extracts the numeric product id from a product URL or slug,
// empty when absent.
func ProductID(url string) string {
	if !strings.Contains(url, "/produkty/") {
		url = "/produkty/" + strings.TrimPrefix(url, "/")
	}
	m := productIDRe.FindStringSubmatch(url)
	if m == nil {
		return ""
	}
	return m[1]
}

// RegionalURL builds the regional offer page URL for a product: the
// stationary-pharmacies anchor of the regional variant, optionally pinned
// to a price variant id.
func RegionalURL(baseURL, region, pvid string) string {
	url := strings.TrimRight(baseURL, "/") + "/apteki/" + region
	if pvid != "" {
		url += "?pvid=" + pvid
	}
	return url + "#stacjonarne"
}
