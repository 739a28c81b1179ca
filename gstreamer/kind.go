package gstreamer

import (
	"fmt"

	"github.com/go-gst/go-gst/gst"
	"github.com/mengelbart/icesrc/ice"
)

// Kind identifies the type of an ICE element.
type Kind int

const (
	KindUnknown Kind = iota
	KindSrc
	KindSink
)

// TypeName returns the name the element type is registered under.
func (k Kind) TypeName() string {
	switch k {
	case KindSrc:
		return "icesrc"
	case KindSink:
		return "icesink"
	}
	return "unknown"
}

func (k Kind) String() string {
	return k.TypeName()
}

// ParseKind returns the Kind registered under name.
func ParseKind(name string) (Kind, error) {
	switch name {
	case KindSrc.TypeName():
		return KindSrc, nil
	case KindSink.TypeName():
		return KindSink, nil
	}
	return KindUnknown, fmt.Errorf("unknown element type: %q", name)
}

// Element is an ICE element which can be added to a pipeline.
type Element interface {
	Kind() Kind
	Element() *gst.Element
	Component() ice.ComponentID
	Close() error
}

// TypeOf returns the kind of e, KindUnknown for nil.
func TypeOf(e Element) Kind {
	if e == nil {
		return KindUnknown
	}
	return e.Kind()
}

func AsSrc(e Element) (*Src, bool) {
	s, ok := e.(*Src)
	return s, ok && s != nil
}

func AsSink(e Element) (*Sink, bool) {
	s, ok := e.(*Sink)
	return s, ok && s != nil
}
