// Package transport provides poll-based non-blocking HTTP for uploaders.
//
// Uploaders are cooperative state machines that must never block their
// tick. Starting a request returns immediately with a *Request handle;
// the exchange runs in the background and the uploader polls Ready()
// on subsequent ticks until the request reaches its terminal state.
//
// A request that completes with a transport error (connection drop,
// timeout) still becomes Ready, with Err() set and StatusCode() zero.
// Uploaders distinguish that case from an HTTP-level rejection when
// building status messages, but retry both the same way.
//
// # Usage
//
//	client := transport.New("http://server:3000", 30*time.Second)
//	req := client.Get("/energy?limit=1", nil)
//	// ... on a later tick ...
//	if req.Ready() {
//	    if req.Err() != nil {
//	        // transport failure
//	    } else if req.StatusCode() == http.StatusOK {
//	        process(req.Body())
//	    }
//	}
package transport
