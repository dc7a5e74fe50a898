package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/matst80/rpcapd/internal/config"
)

func TestParseFlagsDefaults(t *testing.T) {
	cfg, _, err := parseFlags(nil, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != config.DefaultPort || !cfg.Passive || cfg.Worker != config.WorkerTask || cfg.ActiveBackoff != config.DefaultActiveBackoff {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestParseFlagsSwitches(t *testing.T) {
	cfg, _, err := parseFlags([]string{"-b", "127.0.0.1", "-p", "3000", "-4", "-n", "-a", "10.0.0.5,4000,peer", "-v", "--active-backoff", "5s"}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Address != "127.0.0.1" || cfg.Port != "3000" || !cfg.IPv4Only || !cfg.NullAuth || cfg.Passive {
		t.Errorf("cfg = %+v", cfg)
	}
	if len(cfg.Active) != 2 || cfg.Active[0].Port != "4000" || cfg.Active[1].Port != config.DefaultActivePort {
		t.Errorf("active = %+v", cfg.Active)
	}
	if cfg.ActiveBackoff != 5*time.Second {
		t.Errorf("backoff = %s", cfg.ActiveBackoff)
	}
}

func TestParseFlagsConfigFileWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rpcapd.yaml")
	if err := os.WriteFile(path, []byte("port: \"4444\"\nnull_auth: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, opts, err := parseFlags([]string{"-p", "3000", "-f", path}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "4444" || !cfg.NullAuth || opts.configFile != path {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestParseFlagsErrors(t *testing.T) {
	cases := [][]string{
		{"--no-such-flag"},
		{"-v"},
		{"--worker", "fiber"},
		{"stray"},
	}
	for _, args := range cases {
		if _, _, err := parseFlags(args, io.Discard); err == nil {
			t.Errorf("%v: expected error", args)
		}
	}
}

func TestParseFlagsHelp(t *testing.T) {
	var out bytes.Buffer
	if _, _, err := parseFlags([]string{"-h"}, &out); !errors.Is(err, errHelp) {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(out.String(), "--null-auth") {
		t.Errorf("usage missing switches:\n%s", out.String())
	}
	if code := run([]string{"--help"}, io.Discard); code != 0 {
		t.Errorf("help exit code = %d", code)
	}
	if code := run([]string{"--bogus"}, io.Discard); code != 2 {
		t.Errorf("bad flag exit code = %d", code)
	}
}

func TestSaveWritesConfig(t *testing.T) {
	dir := t.TempDir()
	save := filepath.Join(dir, "saved.yaml")
	hosts := filepath.Join(dir, "missing-hosts")
	// The missing hosts file makes startup fail after the save.
	code := run([]string{"-s", save, "-l", hosts, "-n"}, io.Discard)
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	var cfg config.Config
	if err := config.Load(save, &cfg); err != nil {
		t.Fatalf("saved config unreadable: %v", err)
	}
	if !cfg.NullAuth || cfg.HostsFile != hosts {
		t.Errorf("saved = %+v", cfg)
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestReloaderRereadsSources(t *testing.T) {
	dir := t.TempDir()
	hosts := filepath.Join(dir, "hosts")
	cfgPath := filepath.Join(dir, "rpcapd.yaml")
	writeFile(t, hosts, "alice\n")
	writeFile(t, cfgPath, "hosts_file: "+hosts+"\n")
	cfg, opts, err := parseFlags([]string{"-f", cfgPath}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	d, err := newDaemon(cfg, opts)
	if err != nil {
		t.Fatal(err)
	}
	defer d.close()
	r := newReloader(cfg, opts, d.source)

	writeFile(t, hosts, "alice\nbob\n")
	writeFile(t, cfgPath, "hosts_file: "+hosts+"\nnull_auth: true\n")
	pol, err := r.Reload(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if pol.Hosts.Len() != 2 || !pol.NullAuthAllowed {
		t.Errorf("policy = %v null_auth=%v", pol.Hosts.Entries(), pol.NullAuthAllowed)
	}

	os.Remove(hosts)
	if _, err := r.Reload(t.Context()); err == nil {
		t.Error("expected error for missing hosts file")
	}
}

func TestReloaderDropsKeysRemovedFromFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "rpcapd.yaml")
	writeFile(t, cfgPath, "hosts: [10.1.1.1]\nnull_auth: true\n")
	cfg, opts, err := parseFlags([]string{"-f", cfgPath}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.NullAuth || len(cfg.Hosts) != 1 {
		t.Fatalf("startup config = %+v", cfg)
	}
	d, err := newDaemon(cfg, opts)
	if err != nil {
		t.Fatal(err)
	}
	defer d.close()
	r := newReloader(cfg, opts, d.source)

	writeFile(t, cfgPath, "port: \"2002\"\n")
	pol, err := r.Reload(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if !pol.Hosts.Empty() || pol.NullAuthAllowed {
		t.Errorf("after reload: hosts=%v null_auth=%v", pol.Hosts.Entries(), pol.NullAuthAllowed)
	}
}

func TestReloaderKeepsSwitchesUnderFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "rpcapd.yaml")
	writeFile(t, cfgPath, "hosts: [alice]\n")
	cfg, opts, err := parseFlags([]string{"-n", "-f", cfgPath}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	d, err := newDaemon(cfg, opts)
	if err != nil {
		t.Fatal(err)
	}
	defer d.close()
	r := newReloader(cfg, opts, d.source)

	writeFile(t, cfgPath, "hosts: [bob]\n")
	pol, err := r.Reload(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if got := pol.Hosts.Entries(); len(got) != 1 || got[0] != "bob" || !pol.NullAuthAllowed {
		t.Errorf("after reload: hosts=%v null_auth=%v", got, pol.NullAuthAllowed)
	}
}

func TestReloaderRedisInlineHosts(t *testing.T) {
	mr := miniredis.RunT(t)
	if _, err := mr.SAdd(config.DefaultRedisKey, "alice"); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(t.TempDir(), "rpcapd.yaml")
	writeFile(t, cfgPath, "redis:\n  addr: "+mr.Addr()+"\nhosts: [bob]\n")
	cfg, opts, err := parseFlags([]string{"-f", cfgPath}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	d, err := newDaemon(cfg, opts)
	if err != nil {
		t.Fatal(err)
	}
	defer d.close()
	r := newReloader(cfg, opts, d.source)

	entries := func() []string {
		t.Helper()
		pol, err := r.Reload(t.Context())
		if err != nil {
			t.Fatal(err)
		}
		out := pol.Hosts.Entries()
		sort.Strings(out)
		return out
	}

	writeFile(t, cfgPath, "redis:\n  addr: "+mr.Addr()+"\nhosts: [carol]\n")
	if got := entries(); !reflect.DeepEqual(got, []string{"alice", "carol"}) {
		t.Errorf("after inline change: %v", got)
	}

	// A new Redis address needs a restart; the running connection stays.
	writeFile(t, cfgPath, "redis:\n  addr: 127.0.0.1:1\nhosts: [dave]\n")
	if got := entries(); !reflect.DeepEqual(got, []string{"alice", "dave"}) {
		t.Errorf("after address change: %v", got)
	}
}

func TestMetricsEndpoints(t *testing.T) {
	cfg := config.Default()
	cfg.Hosts = []string{"alice", "bob"}
	d, err := newDaemon(cfg, cliOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer d.close()
	srv := httptest.NewServer(newMetricsMux(d))
	defer srv.Close()

	get := func(path string) *http.Response {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		return resp
	}
	if r := get("/healthz"); r.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d", r.StatusCode)
	}
	if r := get("/readyz"); r.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("readyz before Run = %d", r.StatusCode)
	}
	r := get("/api/state")
	var st Stats
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	r.Body.Close()
	if st.AllowedHosts != 2 || st.Worker != config.WorkerTask || st.State != "starting" {
		t.Errorf("stats = %+v", st)
	}
	if r := get("/metrics"); r.StatusCode != http.StatusOK {
		t.Errorf("metrics = %d", r.StatusCode)
	}
}
