// +build debug

package debug

import (
	"bytes"
	"expvar"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// smodules names the packages whose verbosity clustercore_DEBUG can tune
// independently (e.g. clustercore_DEBUG=mover=2,cluster=1); verbosity holds
// the parsed level per package.
var (
	xmodules map[string]*expvar.Map

	smodules = map[string]struct{}{
		"hash":     {},
		"kvstore":  {},
		"cluster":  {},
		"catalog":  {},
		"objstore": {},
		"gc":       {},
		"mover":    {},
		"wsrouter": {},
		"wsworker": {},
	}

	verbosity = map[string]int{}
	verbMu    sync.RWMutex
)

func init() {
	xmodules = make(map[string]*expvar.Map, 2)
	loadLogLevel()
}

func NewExpvar(module string) {
	if _, ok := smodules[module]; !ok {
		fatalMsg("invalid module %q - expecting %+v", module, smodules)
	}
	xmodules[module] = expvar.NewMap("clustercore." + module)
}

func SetExpvar(module, name string, val int64) {
	m := xmodules[module]
	v, ok := m.Get(name).(*expvar.Int)
	if !ok {
		v = new(expvar.Int)
		m.Set(name, v)
	}
	v.Set(val)
}

// V reports whether module is tuned to at least level, the way glog's -v
// flag gated call sites upstream; defaults to false for any module not
// named in clustercore_DEBUG.
func V(module string, level int) bool {
	verbMu.RLock()
	defer verbMu.RUnlock()
	return verbosity[module] >= level
}

func Errorln(a ...interface{}) {
	if len(a) == 1 {
		log.Error().Msg(fmt.Sprintf("[DEBUG] %v", a[0]))
		return
	}
	Errorf("%v", a)
}

func Errorf(f string, a ...interface{}) {
	log.Error().Msg(fmt.Sprintf("[DEBUG] "+f, a...))
}

func Infof(f string, a ...interface{}) {
	log.Info().Msg(fmt.Sprintf("[DEBUG] "+f, a...))
}

func Func(f func()) { f() }

func _panic(a ...interface{}) {
	msg := "DEBUG PANIC: "
	if len(a) > 0 {
		msg += fmt.Sprint(a...)
	}
	buffer := bytes.NewBuffer(make([]byte, 0, 1024))
	fmt.Fprint(buffer, msg)
	for i := 2; i < 9; i++ {
		_, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if !strings.Contains(file, "clustercore") {
			break
		}
		f := filepath.Base(file)
		if buffer.Len() > len(msg) {
			buffer.WriteString(" <- ")
		}
		fmt.Fprintf(buffer, "%s:%d", f, line)
	}
	log.Error().Msg(buffer.String())
	panic(msg)
}

func Assert(cond bool, a ...interface{}) {
	if !cond {
		_panic(a...)
	}
}

func AssertFunc(f func() bool, a ...interface{}) {
	if !f() {
		_panic(a...)
	}
}

func AssertMsg(cond bool, msg string) {
	if !cond {
		_panic(msg)
	}
}

func AssertNoErr(err error) {
	if err != nil {
		_panic(err)
	}
}

func Assertf(cond bool, f string, a ...interface{}) {
	if !cond {
		_panic(fmt.Sprintf(f, a...))
	}
}

func AssertMutexLocked(m *sync.Mutex) {
	state := reflect.ValueOf(m).Elem().FieldByName("state")
	AssertMsg(state.Int()&1 == 1, "mutex not locked")
}

func AssertRWMutexLocked(m *sync.RWMutex) {
	state := reflect.ValueOf(m).Elem().FieldByName("w").FieldByName("state")
	AssertMsg(state.Int()&1 == 1, "rwmutex not locked")
}

func AssertRWMutexRLocked(m *sync.RWMutex) {
	const maxReaders = 1 << 30 // taken from sync/rwmutex.go
	rc := reflect.ValueOf(m).Elem().FieldByName("readerCount").Int()
	AssertMsg(rc > 0 || (0 > rc && rc > -maxReaders), "rwmutex not rlocked")
}

func Handlers() map[string]http.HandlerFunc {
	return map[string]http.HandlerFunc{
		"/debug/vars":               expvar.Handler().ServeHTTP,
		"/debug/pprof/":             pprof.Index,
		"/debug/pprof/cmdline":      pprof.Cmdline,
		"/debug/pprof/profile":      pprof.Profile,
		"/debug/pprof/symbol":       pprof.Symbol,
		"/debug/pprof/block":        pprof.Handler("block").ServeHTTP,
		"/debug/pprof/heap":         pprof.Handler("heap").ServeHTTP,
		"/debug/pprof/goroutine":    pprof.Handler("goroutine").ServeHTTP,
		"/debug/pprof/threadcreate": pprof.Handler("threadcreate").ServeHTTP,
	}
}

// loadLogLevel sets per-package debug verbosity from clustercore_DEBUG,
// formatted the same way as GODEBUG: clustercore_DEBUG=mover=2,cluster=1.
func loadLogLevel() {
	var opts []string
	if val := os.Getenv("clustercore_DEBUG"); val != "" {
		opts = strings.Split(val, ",")
	}

	verbMu.Lock()
	defer verbMu.Unlock()
	for _, ele := range opts {
		pair := strings.Split(ele, "=")
		if len(pair) != 2 {
			fatalMsg("failed to parse module=level element: %q", ele)
		}
		module, level := pair[0], pair[1]
		if _, exists := smodules[module]; !exists {
			fatalMsg("unknown module: %s", module)
		}
		lvl, err := strconv.Atoi(level)
		if err != nil || lvl <= 0 {
			fatalMsg("invalid verbosity level=%s, err: %v", level, err)
		}
		verbosity[module] = lvl
	}
}

func fatalMsg(f string, v ...interface{}) {
	s := fmt.Sprintf(f, v...)
	if s == "" || s[len(s)-1] != '\n' {
		fmt.Fprintln(os.Stderr, s)
	} else {
		fmt.Fprint(os.Stderr, s)
	}
	os.Exit(1)
}
