// Package sse splits a chunked text/event-stream body into discrete frames.
// The parser carries partial lines across chunk boundaries, so frames come
// out identical no matter where the transport happened to cut the stream.
package sse

import "strings"

// DefaultEvent is the event name used when a frame carries no "event:" field.
const DefaultEvent = "message"

// Frame is one event+data unit of the wire format, terminated by a blank line.
// Multi-line data payloads are joined with "\n".
type Frame struct {
	Event string
	Data  string
}

// Parser accumulates raw chunks and extracts complete frames. The zero value
// is ready to use. Not safe for concurrent use.
type Parser struct {
	buffer    string
	eventName string
	dataLines []string
}

// Consume appends chunk to the internal buffer and returns every frame that
// became complete, in arrival order. Incomplete trailing input stays buffered
// for the next call.
func (p *Parser) Consume(chunk string) []Frame {
	p.buffer += chunk

	var frames []Frame
	for {
		idx := strings.IndexByte(p.buffer, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimSuffix(p.buffer[:idx], "\r")
		p.buffer = p.buffer[idx+1:]

		if line == "" {
			if f, ok := p.dispatch(); ok {
				frames = append(frames, f)
			}
			continue
		}
		if name, ok := strings.CutPrefix(line, "event:"); ok {
			p.eventName = strings.TrimSpace(name)
			continue
		}
		if data, ok := strings.CutPrefix(line, "data:"); ok {
			p.dataLines = append(p.dataLines, strings.TrimLeft(data, " \t"))
			continue
		}
		// other fields (id, retry, comments) are ignored
	}
	return frames
}

// Flush dispatches a trailing unterminated frame at end-of-stream. It returns
// false when no data was pending.
func (p *Parser) Flush() (Frame, bool) {
	return p.dispatch()
}

func (p *Parser) dispatch() (Frame, bool) {
	if len(p.dataLines) == 0 {
		// blank line with no accumulated data resets the event name only
		p.eventName = ""
		return Frame{}, false
	}
	f := Frame{
		Event: p.eventName,
		Data:  strings.Join(p.dataLines, "\n"),
	}
	if f.Event == "" {
		f.Event = DefaultEvent
	}
	p.eventName = ""
	p.dataLines = nil
	return f, true
}
