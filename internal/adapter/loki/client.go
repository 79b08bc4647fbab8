// Package loki 通过 Loki HTTP API 查询进程实例日志。
package loki

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chiwei-platform/paas-workloads/internal/port"
)

const defaultLimit = 1000

var _ port.LogQuerier = (*Client)(nil)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// QueryProcessLogs 查询某个 WlApp 的实例日志。processType 为空时返回全部进程。
// 日志采集端把 Pod 标签 paas.chiwei/app、paas.chiwei/process-type 重写为 app、process_type。
func (c *Client) QueryProcessLogs(ctx context.Context, namespace, appName, processType string, start, end time.Time, limit int) (string, error) {
	selectors := []string{
		fmt.Sprintf("namespace=%q", namespace),
		fmt.Sprintf("app=%q", appName),
	}
	if processType != "" {
		selectors = append(selectors, fmt.Sprintf("process_type=%q", processType))
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	return c.queryRange(ctx, "{"+strings.Join(selectors, ", ")+"}", start, end, limit)
}

func (c *Client) queryRange(ctx context.Context, query string, start, end time.Time, limit int) (string, error) {
	params := url.Values{
		"query":     {query},
		"start":     {strconv.FormatInt(start.UnixNano(), 10)},
		"end":       {strconv.FormatInt(end.UnixNano(), 10)},
		"direction": {"forward"},
		"limit":     {strconv.Itoa(limit)},
	}

	reqURL := c.baseURL + "/loki/api/v1/query_range?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("loki: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("loki: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("loki: unexpected status %d", resp.StatusCode)
	}

	var result queryRangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("loki: decode response: %w", err)
	}
	if result.Status != "success" {
		return "", fmt.Errorf("loki: query status %q", result.Status)
	}
	return extractLogs(result.Data), nil
}

type queryRangeResponse struct {
	Status string         `json:"status"`
	Data   queryRangeData `json:"data"`
}

type queryRangeData struct {
	ResultType string   `json:"resultType"`
	Result     []stream `json:"result"`
}

type stream struct {
	Values [][]string `json:"values"` // [[timestamp_ns, line], ...]
}

type logEntry struct {
	ts   int64
	line string
}

// extractLogs 合并所有 stream 的日志行并按时间戳排序。
func extractLogs(data queryRangeData) string {
	var entries []logEntry
	for _, s := range data.Result {
		for _, v := range s.Values {
			if len(v) < 2 {
				continue
			}
			ts, err := strconv.ParseInt(v[0], 10, 64)
			if err != nil {
				continue
			}
			entries = append(entries, logEntry{ts: ts, line: v[1]})
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ts < entries[j].ts
	})

	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.line)
		b.WriteByte('\n')
	}
	return b.String()
}
