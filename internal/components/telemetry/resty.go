package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	report_resty_request  = "resty.request"
	report_resty_response = "resty.response"
	report_resty_dump     = "resty.dump"
)

// DumpOutput receives a rendered HTTP exchange, keyed by request id.
type DumpOutput interface {
	Write(id string, contents string)
}

type instrumentResty struct {
	tel       API
	output    DumpOutput
	redactUrl func(string) string
	idcounter *uint64
}

// InstrumentResty reports every request made by the client to tel.
// `output` may be nil, in which case exchanges are not dumped. `redactUrl`
// rewrites every url before it is reported or dumped, nil keeps them as is.
func InstrumentResty(client *resty.Client, tel API, output DumpOutput, redactUrl func(string) string) {
	if redactUrl == nil {
		redactUrl = func(u string) string { return u }
	}
	var idcounter uint64
	i := instrumentResty{tel: tel, output: output, redactUrl: redactUrl, idcounter: &idcounter}

	client.OnBeforeRequest(i.onBeforeRequest)
	client.OnAfterResponse(i.onAfterResponse)
	client.OnError(i.onError)
}

type reqCtxKeyType int

var reqCtxKey reqCtxKeyType

type reqCtx struct {
	id uint64
	// startTime does not need to rely on chrono because it does not depend on the
	// absolute time, just the difference in time.
	startTime time.Time
}

func (i instrumentResty) onBeforeRequest(_ *resty.Client, req *resty.Request) error {
	start := time.Now()
	ctx := req.Context()

	id := atomic.AddUint64(i.idcounter, 1)
	ctx = context.WithValue(ctx, reqCtxKey, reqCtx{
		id:        id,
		startTime: start,
	})
	i.tel.ReportDebug(report_resty_request, id, req.Method, i.redactUrl(req.URL))

	req.SetContext(ctx)
	return nil
}

func (i instrumentResty) onAfterResponse(_ *resty.Client, res *resty.Response) error {
	end := time.Now()
	ctx := res.Request.Context()

	rc, ok := ctx.Value(reqCtxKey).(reqCtx)
	if !ok {
		i.tel.ReportWarning(report_resty_response, "missing request context", i.redactUrl(res.Request.URL))
		return nil
	}

	i.tel.ReportDebug(
		report_resty_response,
		rc.id,
		end.Sub(rc.startTime).String(),
		res.Status(),
	)
	if i.output != nil {
		i.output.Write(strconv.FormatUint(rc.id, 10), formatHttpMessage(res, i.redactUrl))
	}

	return nil
}

func (i instrumentResty) onError(req *resty.Request, err error) {
	end := time.Now()

	var duration time.Duration
	rc, ok := req.Context().Value(reqCtxKey).(reqCtx)
	if ok {
		duration = end.Sub(rc.startTime)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		urlErr.URL = i.redactUrl(urlErr.URL)
	}

	i.tel.ReportBroken(
		report_resty_response,
		err,
		req.Method,
		i.redactUrl(req.URL),
		duration,
	)
}

// FilesystemOutput writes each exchange to a file named after its request id.
type FilesystemOutput struct {
	directory string
	tel       API
}

// NewFilesystemOutput clears and recreates `dir`.
func NewFilesystemOutput(dir string, tel API) (FilesystemOutput, error) {
	err := os.RemoveAll(dir)
	if err != nil {
		return FilesystemOutput{}, err
	}
	err = os.MkdirAll(dir, 0700)
	if err != nil {
		return FilesystemOutput{}, err
	}
	return FilesystemOutput{directory: dir, tel: tel}, nil
}

func (o FilesystemOutput) Write(id string, contents string) {
	err := os.WriteFile(filepath.Join(o.directory, id+".txt"), []byte(contents), 0600)
	if err != nil {
		o.tel.ReportWarning(report_resty_dump, err, id)
	}
}

func formatHeaders(headers http.Header) string {
	var out strings.Builder
	for k, vals := range headers {
		for _, v := range vals {
			if strings.EqualFold(k, "cookie") || strings.EqualFold(k, "set-cookie") {
				v = Redacted(v)
			}
			out.WriteString(fmt.Sprintf("%s: %s\n", k, v))
		}
	}
	return strings.TrimSuffix(out.String(), "\n")
}

// redactForm hides every form field that looks like a password.
func redactForm(body string) string {
	values, err := url.ParseQuery(body)
	if err != nil || len(values) == 0 {
		return body
	}
	redacted := false
	for key, vals := range values {
		if !strings.Contains(strings.ToLower(key), "pass") {
			continue
		}
		for i := range vals {
			vals[i] = Redacted(vals[i])
		}
		redacted = true
	}
	if !redacted {
		return body
	}
	return values.Encode()
}

func formatRequestBody(req *http.Request) string {
	if req == nil || req.GetBody == nil {
		return "<NO BODY AVAILABLE>"
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Sprintf("failed to get request body: %s", err.Error())
	}
	readBody, err := io.ReadAll(body)
	if err != nil {
		return fmt.Sprintf("failed to read request body: %s", err.Error())
	}
	return redactForm(string(readBody))
}

// 1: request method
// 2: request url
// 3: request headers in ("Key: Value" format)
// 4: request body
// 5: response status
// 6: response url
// 7: response headers in ("Key: Value" format)
// 8: response body
const messageInfoTemplate = `---- REQUEST ----

%s %s

%s

%s

---- RESPONSE ----

%s %s

%s

%s`

func formatHttpMessage(res *resty.Response, redactUrl func(string) string) string {
	var requestHeaders string
	if res.Request.RawRequest != nil {
		requestHeaders = formatHeaders(res.Request.RawRequest.Header)
	}
	responseHeaders := formatHeaders(res.Header())

	responseUrl := res.Request.URL
	if res.RawResponse != nil {
		redirected, err := res.RawResponse.Location()
		if err == nil {
			responseUrl = redirected.String()
		}
	}

	return fmt.Sprintf(
		messageInfoTemplate,

		res.Request.Method, redactUrl(res.Request.URL),
		requestHeaders,
		formatRequestBody(res.Request.RawRequest),

		strconv.Itoa(res.StatusCode()), redactUrl(responseUrl),
		responseHeaders,
		res.String(),
	)
}
