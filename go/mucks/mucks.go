package mucks

import (
	"encoding/json"
	"github.com/google/uuid"
	"net/http"
)

type Mucks struct {
	Mux         *http.ServeMux
	HandlerFunc http.HandlerFunc
}

var NotFoundResponse Problem = Problem{
	StatusCode: 404,
	ErrorCode:  404,
	Message:    "Not Found",
	Detail:     "Not Found",
}

func NotFoundHandleFunc(w http.ResponseWriter, _ *http.Request) {
	problem := NotFoundResponse
	problem.Instance = uuid.NewString()
	jsonError(w, problem)
}

func NewMucks() *Mucks {
	m := http.NewServeMux()
	m.HandleFunc("/", NotFoundHandleFunc)
	return &Mucks{
		Mux:         m,
		HandlerFunc: m.ServeHTTP,
	}
}

func (m *Mucks) Add(middleware Middleware) {
	m.HandlerFunc = middleware.Wrap(m.HandlerFunc)
}

func (m *Mucks) HandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	m.Mux.HandleFunc(pattern, handler)
}

func (m *Mucks) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.HandlerFunc(w, r)
}

const ContentType = "Content-Type"
const ApplicationJsonContentType = "application/json; charset=utf-8"

func jsonError(w http.ResponseWriter, problem Problem) {
	w.Header().Set(ContentType, ApplicationJsonContentType)
	w.WriteHeader(problem.StatusCode)
	json.NewEncoder(w).Encode(problem)
}

func JsonOk(w http.ResponseWriter, v any) {
	w.Header().Set(ContentType, ApplicationJsonContentType)
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}
