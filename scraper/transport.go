package scraper

import "net/http"

// contentTypeHeader holds the server's Content-Type while colly processes a
// response. Fetch moves it back before returning.
const contentTypeHeader = "X-Syzscrape-Content-Type"

// rawBodyTransport keeps colly from decoding response bodies. Responses are
// marked Uncompressed so gzip archives are not inflated, and Content-Type is
// moved aside so no charset transcoding takes place.
type rawBodyTransport struct {
	next http.RoundTripper
}

func (t *rawBodyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil || resp == nil {
		return resp, err
	}
	resp.Uncompressed = true
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	if contentType := resp.Header.Get("Content-Type"); contentType != "" {
		resp.Header.Set(contentTypeHeader, contentType)
		resp.Header.Del("Content-Type")
	}
	return resp, nil
}

func restoreContentType(header http.Header) {
	if contentType := header.Get(contentTypeHeader); contentType != "" {
		header.Set("Content-Type", contentType)
	}
	header.Del(contentTypeHeader)
}
