package sandbox

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strings"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// installGlobals binds the bridge functions into the runtime.
func (c *scriptContext) installGlobals(info AppInfo) error {
	rt := c.rt

	console := rt.NewObject()
	for name, level := range map[string]func(string, ...zap.Field){
		"log":   c.logger.Info,
		"info":  c.logger.Info,
		"debug": c.logger.Debug,
		"warn":  c.logger.Warn,
		"error": c.logger.Error,
	} {
		level := level
		if err := console.Set(name, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, a := range call.Arguments {
				parts[i] = a.String()
			}
			level("script console", zap.String("message", strings.Join(parts, " ")))
			return goja.Undefined()
		}); err != nil {
			return err
		}
	}

	appInfo := rt.NewObject()
	for k, v := range map[string]string{
		"name":     info.Name,
		"version":  info.Version,
		"platform": runtime.GOOS,
	} {
		if err := appInfo.Set(k, v); err != nil {
			return err
		}
	}

	for name, value := range map[string]interface{}{
		"console":       console,
		"AppInfo":       appInfo,
		"fetchv2":       c.fetchv2,
		"fetch":         c.fetchText,
		"btoa":          c.encodeBase64,
		"atob":          c.decodeBase64,
		"_encodeBase64": c.encodeBase64,
		"_decodeBase64": c.decodeBase64,
	} {
		if err := rt.Set(name, value); err != nil {
			return fmt.Errorf("setting %s: %w", name, err)
		}
	}

	_, err := rt.RunString(`Object.freeze(AppInfo);`)
	return err
}

func (c *scriptContext) encodeBase64(call goja.FunctionCall) goja.Value {
	return c.rt.ToValue(base64.StdEncoding.EncodeToString([]byte(call.Argument(0).String())))
}

func (c *scriptContext) decodeBase64(call goja.FunctionCall) goja.Value {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(call.Argument(0).String()))
	if err != nil {
		panic(c.rt.NewTypeError("invalid base64 input: %v", err))
	}
	return c.rt.ToValue(string(raw))
}

// fetchv2(url, headers, method, body, redirect, encoding) resolves with
// {status, headers, body, text(), json()} for any HTTP response.
func (c *scriptContext) fetchv2(call goja.FunctionCall) goja.Value {
	req := FetchRequest{
		URL:             call.Argument(0).String(),
		Headers:         stringMap(call.Argument(1)),
		Method:          optionalString(call.Argument(2), http.MethodGet),
		Body:            bodyString(call.Argument(3)),
		FollowRedirects: optionalBool(call.Argument(4), true),
		Encoding:        optionalString(call.Argument(5), "utf-8"),
	}
	return c.startFetch(req, func(resp FetchResponse) interface{} {
		return c.responseObject(resp)
	}, false)
}

// fetch(url, headers) is the legacy bridge: it resolves with the body text
// and rejects non-2xx responses.
func (c *scriptContext) fetchText(call goja.FunctionCall) goja.Value {
	req := FetchRequest{
		URL:             call.Argument(0).String(),
		Headers:         stringMap(call.Argument(1)),
		Method:          http.MethodGet,
		FollowRedirects: true,
	}
	return c.startFetch(req, func(resp FetchResponse) interface{} {
		return resp.Body
	}, true)
}

func (c *scriptContext) startFetch(req FetchRequest, convert func(FetchResponse) interface{}, requireOK bool) goja.Value {
	promise, resolve, reject := c.rt.NewPromise()
	go func() {
		resp, err := c.bridge.Do(c.ctx, req)
		if err == nil && requireOK && (resp.Status < 200 || resp.Status > 299) {
			err = fmt.Errorf("unexpected status %d from %s", resp.Status, req.URL)
		}
		if err != nil {
			c.logger.Debug("bridge fetch failed", zap.String("url", req.URL), zap.Error(err))
		}
		c.enqueue(func() {
			if err != nil {
				reject(c.rt.ToValue(err.Error()))
			} else {
				resolve(convert(resp))
			}
			c.flush()
		})
	}()
	return c.rt.ToValue(promise)
}

func (c *scriptContext) responseObject(resp FetchResponse) *goja.Object {
	obj := c.rt.NewObject()
	body := resp.Body
	obj.Set("status", resp.Status)
	obj.Set("ok", resp.Status >= 200 && resp.Status <= 299)
	obj.Set("headers", resp.Headers)
	obj.Set("body", body)
	obj.Set("text", func(goja.FunctionCall) goja.Value {
		return c.rt.ToValue(body)
	})
	obj.Set("json", func(goja.FunctionCall) goja.Value {
		var v interface{}
		if err := json.Unmarshal([]byte(body), &v); err != nil {
			panic(c.rt.NewTypeError("invalid JSON body: %v", err))
		}
		return c.rt.ToValue(v)
	})
	return obj
}

func isMissing(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

func optionalString(v goja.Value, def string) string {
	if isMissing(v) {
		return def
	}
	if s := v.String(); s != "" {
		return s
	}
	return def
}

func optionalBool(v goja.Value, def bool) bool {
	if isMissing(v) {
		return def
	}
	return v.ToBoolean()
}

func bodyString(v goja.Value) string {
	if isMissing(v) {
		return ""
	}
	if s, ok := v.Export().(string); ok {
		return s
	}
	b, err := json.Marshal(v.Export())
	if err != nil {
		return v.String()
	}
	return string(b)
}

func stringMap(v goja.Value) map[string]string {
	if isMissing(v) {
		return nil
	}
	m, ok := v.Export().(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		if val == nil {
			continue
		}
		out[k] = fmt.Sprint(val)
	}
	return out
}
