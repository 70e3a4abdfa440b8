// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package icd implements the ICD (interface control document) command
// engine: it parses the JSON document describing parameters, commands and
// sequences, and serializes/deserializes command frames by walking the
// declarative schema.
package icd

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"fpgakit/conn/cmdtransport"
	"fpgakit/ferr"

	"github.com/expr-lang/expr/vm"
)

// TypeTag is one of the ICD's scalar parameter/field types.
type TypeTag string

const (
	TagUint8      TypeTag = "uint8"
	TagInt8       TypeTag = "int8"
	TagUint16     TypeTag = "uint16"
	TagInt16      TypeTag = "int16"
	TagUint32     TypeTag = "uint32"
	TagInt32      TypeTag = "int32"
	TagFloat      TypeTag = "float"
	TagDouble     TypeTag = "double"
	TagFile       TypeTag = "file"
	TagFileLength TypeTag = "file_length"
)

func sizeOfTag(tag TypeTag) (int, error) {
	switch tag {
	case TagUint8, TagInt8:
		return 1, nil
	case TagUint16, TagInt16:
		return 2, nil
	case TagUint32, TagInt32, TagFloat, TagFileLength:
		return 4, nil
	case TagDouble:
		return 8, nil
	case TagFile:
		return 0, nil
	default:
		return 0, ferr.Newf(ferr.ErrSchema, "icd.sizeOfTag", "unknown type-tag %q", tag)
	}
}

// Param is a named entry in the ICD parameter store.
type Param struct {
	Name    string
	Tag     TypeTag
	Current interface{} // float64 for numeric tags, string (path) for file/file_length
	Expr    *vm.Program
	ExprSrc string
}

type elemKind int

const (
	elemLiteral elemKind = iota
	elemParamRef
	elemFileToken
	elemFileLengthToken
	elemArrayToken
	elemSeqRef
)

// Elem is one field element of a command's send or recv list.
type Elem struct {
	Kind       elemKind
	Tag        TypeTag // elemLiteral only
	Value      float64 // elemLiteral only
	Expr       *vm.Program
	ExprSrc    string
	Name       string // elemParamRef / elemSeqRef
	ArrayIndex int    // elemArrayToken
}

// Command is a named entry in the ICD command table.
type Command struct {
	Name string
	Send []Elem
	Recv []Elem
	// Mode overrides the engine-wide CheckRecvHead default for this command
	// alone, when the ICD JSON sets a per-command "mode" field. nil means
	// "use the engine default".
	Mode *bool
}

// Document is the fully parsed ICD.
type Document struct {
	Params    map[string]*Param
	Commands  map[string]*Command
	Sequences map[string][]Elem

	// paramToCommands maps a parameter name to every command whose Send
	// list references it, built once at load time so ExecuteFromPName
	// doesn't rescan the whole command table per call. The names are
	// collected by ranging over the Commands map, so their order is
	// arbitrary, not the order of the ICD document.
	paramToCommands map[string][]string
}

var arrayTokenRe = regexp.MustCompile(`^__array__(\d+)$`)
var seqTokenRe = regexp.MustCompile(`^\{\{(.+)\}\}$`)

// BundledICDPath is used when a Facade's Config.ICDPath is left empty. It
// names the conventional install location for the document shipped
// alongside the board support package.
const BundledICDPath = "/etc/fpgakit/icd.json"

// Load parses an ICD JSON document from path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ferr.Wrap(ferr.ErrSchema, "icd.Load", err, "reading %s", path)
	}
	return Parse(data)
}

type rawDoc struct {
	Param    map[string][]json.RawMessage `json:"param"`
	Command  map[string]rawCommand        `json:"command"`
	Sequence map[string][]json.RawMessage `json:"sequence"`
}

type rawCommand struct {
	Send []json.RawMessage `json:"send"`
	Recv []json.RawMessage `json:"recv"`
	// Mode is "head" or "sum", overriding the engine-wide reply parsing
	// default for this command alone.
	Mode string `json:"mode"`
}

// Parse parses an ICD JSON document already read into memory.
func Parse(data []byte) (*Document, error) {
	var raw rawDoc
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, ferr.Wrap(ferr.ErrSchema, "icd.Parse", err, "invalid ICD JSON")
	}
	doc := &Document{
		Params:    map[string]*Param{},
		Commands:  map[string]*Command{},
		Sequences: map[string][]Elem{},
	}
	for name, triple := range raw.Param {
		p, err := parseParam(name, triple)
		if err != nil {
			return nil, err
		}
		doc.Params[name] = p
	}
	for name, rc := range raw.Command {
		cmd := &Command{Name: name}
		elems, err := parseElemList(rc.Send)
		if err != nil {
			return nil, ferr.Wrap(ferr.ErrSchema, "icd.Parse", err, "command %q send", name)
		}
		cmd.Send = elems
		if elems, err = parseElemList(rc.Recv); err != nil {
			return nil, ferr.Wrap(ferr.ErrSchema, "icd.Parse", err, "command %q recv", name)
		}
		cmd.Recv = elems
		switch rc.Mode {
		case "":
		case "head":
			v := true
			cmd.Mode = &v
		case "sum":
			v := false
			cmd.Mode = &v
		default:
			return nil, ferr.Newf(ferr.ErrSchema, "icd.Parse", "command %q: mode must be \"head\" or \"sum\", got %q", name, rc.Mode)
		}
		doc.Commands[name] = cmd
	}
	for name, raw := range raw.Sequence {
		elems, err := parseElemList(raw)
		if err != nil {
			return nil, ferr.Wrap(ferr.ErrSchema, "icd.Parse", err, "sequence %q", name)
		}
		doc.Sequences[name] = elems
	}
	doc.buildParamIndex()
	return doc, nil
}

func (d *Document) buildParamIndex() {
	d.paramToCommands = map[string][]string{}
	for name, cmd := range d.Commands {
		seen := map[string]bool{}
		for _, e := range cmd.Send {
			if e.Kind == elemParamRef && !seen[e.Name] {
				seen[e.Name] = true
				d.paramToCommands[e.Name] = append(d.paramToCommands[e.Name], name)
			}
		}
	}
}

func parseParam(name string, triple []json.RawMessage) (*Param, error) {
	if len(triple) < 2 {
		return nil, ferr.Newf(ferr.ErrSchema, "icd.parseParam", "param %q needs at least [type-tag, value]", name)
	}
	var tagStr string
	if err := json.Unmarshal(triple[0], &tagStr); err != nil {
		return nil, ferr.Wrap(ferr.ErrSchema, "icd.parseParam", err, "param %q type-tag", name)
	}
	tag := TypeTag(tagStr)
	if _, err := sizeOfTag(tag); err != nil && tag != TagFile {
		return nil, ferr.Newf(ferr.ErrSchema, "icd.parseParam", "param %q: %v", name, err)
	}
	p := &Param{Name: name, Tag: tag}
	if err := decodeCurrent(p, triple[1]); err != nil {
		return nil, err
	}
	if src, ok, err := decodeOptionalExprString(triple[2:]); err != nil {
		return nil, ferr.Wrap(ferr.ErrSchema, "icd.parseParam", err, "param %q expression", name)
	} else if ok {
		prog, err := compileExpr(src)
		if err != nil {
			return nil, err
		}
		p.Expr, p.ExprSrc = prog, src
	}
	return p, nil
}

func decodeCurrent(p *Param, raw json.RawMessage) error {
	if p.Tag == TagFile || p.Tag == TagFileLength {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ferr.Wrap(ferr.ErrSchema, "icd.decodeCurrent", err, "param %q expects a file path string", p.Name)
		}
		p.Current = s
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		p.Current = f
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ferr.Wrap(ferr.ErrSchema, "icd.decodeCurrent", err, "param %q current value", p.Name)
	}
	v, err := coerceString(s)
	if err != nil {
		return ferr.Wrap(ferr.ErrSchema, "icd.decodeCurrent", err, "param %q current value %q", p.Name, s)
	}
	p.Current = v
	return nil
}

// coerceString implements the parameter value coercion rules: "0x" prefixed
// strings parse as hex, "0b" as binary, strings containing "." coerce to
// float.
func coerceString(s string) (float64, error) {
	switch {
	case strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X"):
		v, err := strconv.ParseUint(s[2:], 16, 64)
		return float64(v), err
	case strings.HasPrefix(s, "0b") || strings.HasPrefix(s, "0B"):
		v, err := strconv.ParseUint(s[2:], 2, 64)
		return float64(v), err
	case strings.Contains(s, "."):
		return strconv.ParseFloat(s, 64)
	default:
		v, err := strconv.ParseInt(s, 10, 64)
		return float64(v), err
	}
}

func parseElemList(raw []json.RawMessage) ([]Elem, error) {
	out := make([]Elem, 0, len(raw))
	for _, r := range raw {
		e, err := parseElem(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// decodeOptionalExprString decodes the optional third element of a literal
// or param triple, treating both "absent" and JSON null as "no expression".
func decodeOptionalExprString(rest []json.RawMessage) (string, bool, error) {
	if len(rest) == 0 {
		return "", false, nil
	}
	if string(rest[0]) == "null" {
		return "", false, nil
	}
	var src string
	if err := json.Unmarshal(rest[0], &src); err != nil {
		return "", false, err
	}
	return src, true, nil
}

func parseElem(raw json.RawMessage) (Elem, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return classifyToken(asString)
	}
	var triple []json.RawMessage
	if err := json.Unmarshal(raw, &triple); err != nil {
		return Elem{}, ferr.Wrap(ferr.ErrSchema, "icd.parseElem", err, "field element must be a string or [type-tag, value, expr?]")
	}
	if len(triple) < 2 {
		return Elem{}, ferr.Newf(ferr.ErrSchema, "icd.parseElem", "literal element needs at least [type-tag, value]")
	}
	var tagStr string
	if err := json.Unmarshal(triple[0], &tagStr); err != nil {
		return Elem{}, ferr.Wrap(ferr.ErrSchema, "icd.parseElem", err, "literal type-tag")
	}
	tag := TypeTag(tagStr)
	if _, err := sizeOfTag(tag); err != nil {
		return Elem{}, ferr.Newf(ferr.ErrSchema, "icd.parseElem", "literal: %v", err)
	}
	var value float64
	if err := json.Unmarshal(triple[1], &value); err != nil {
		return Elem{}, ferr.Wrap(ferr.ErrSchema, "icd.parseElem", err, "literal value")
	}
	e := Elem{Kind: elemLiteral, Tag: tag, Value: value}
	if src, ok, err := decodeOptionalExprString(triple[2:]); err != nil {
		return Elem{}, ferr.Wrap(ferr.ErrSchema, "icd.parseElem", err, "literal expression")
	} else if ok {
		prog, err := compileExpr(src)
		if err != nil {
			return Elem{}, err
		}
		e.Expr, e.ExprSrc = prog, src
	}
	return e, nil
}

func classifyToken(s string) (Elem, error) {
	switch s {
	case "__file__":
		return Elem{Kind: elemFileToken}, nil
	case "__filelength__":
		return Elem{Kind: elemFileLengthToken}, nil
	}
	if m := arrayTokenRe.FindStringSubmatch(s); m != nil {
		idx, _ := strconv.Atoi(m[1])
		return Elem{Kind: elemArrayToken, ArrayIndex: idx}, nil
	}
	if m := seqTokenRe.FindStringSubmatch(s); m != nil {
		return Elem{Kind: elemSeqRef, Name: m[1]}, nil
	}
	return Elem{Kind: elemParamRef, Name: s}, nil
}

//
// Engine
//

// Engine owns a parsed Document and an associated command transport,
// serializing/deserializing command frames against the parameter store.
type Engine struct {
	Transport     cmdtransport.CmdTransport
	CheckRecvHead bool

	mu      sync.RWMutex
	doc     *Document
	serial  uint32
	fileCtx *Param // most recently referenced file/file_length param, for __file__/__filelength__ tokens
}

// NewEngine returns an Engine with head-checked reply parsing on by
// default.
func NewEngine(t cmdtransport.CmdTransport) *Engine {
	return &Engine{Transport: t, CheckRecvHead: true}
}

// Configure loads the ICD document at path into the engine, replacing any
// previously loaded document.
func (e *Engine) Configure(path string) error {
	doc, err := Load(path)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.doc = doc
	e.mu.Unlock()
	return nil
}

// SetParam sets a parameter's current value, coercing strings with
// coerceString.
func (e *Engine) SetParam(name string, value interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.doc.Params[name]
	if !ok {
		return ferr.Newf(ferr.ErrSchema, "icd.SetParam", "unknown parameter %q", name)
	}
	if p.Tag == TagFile || p.Tag == TagFileLength {
		s, ok := value.(string)
		if !ok {
			return ferr.Newf(ferr.ErrSchema, "icd.SetParam", "parameter %q expects a file path string", name)
		}
		p.Current = s
		return nil
	}
	switch v := value.(type) {
	case string:
		f, err := coerceString(v)
		if err != nil {
			return ferr.Wrap(ferr.ErrSchema, "icd.SetParam", err, "parameter %q value %q", name, v)
		}
		p.Current = f
	case float64:
		p.Current = v
	case int:
		p.Current = float64(v)
	case uint32:
		p.Current = float64(v)
	default:
		return ferr.Newf(ferr.ErrSchema, "icd.SetParam", "parameter %q: unsupported value type %T", name, value)
	}
	return nil
}

// GetParam returns a parameter's current value.
func (e *Engine) GetParam(name string) (interface{}, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.doc.Params[name]
	if !ok {
		return nil, ferr.Newf(ferr.ErrSchema, "icd.GetParam", "unknown parameter %q", name)
	}
	return p.Current, nil
}

// Execute serializes cmdName's send schema into a complete frame,
// dispatches it over the command transport, parses the reply, and updates
// the parameter store from the recv schema. On failure the parameter store
// is left untouched.
//
// The send schema carries the frame header itself (its leading literal
// elements); the engine only overwrites bytes [8:12) with a monotonically
// assigned serial number and bytes [12:16) with the actual total length.
// In head-checked mode it then checks that the reply header echoes the
// command id and that serial.
func (e *Engine) Execute(cmdName string, arrays ...[]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	cmd, ok := e.doc.Commands[cmdName]
	if !ok {
		return ferr.Newf(ferr.ErrSchema, "icd.Execute", "unknown command %q", cmdName)
	}

	frame, err := e.serialize(cmd.Send, arrays)
	if err != nil {
		return ferr.Wrap(ferr.ErrSchema, "icd.Execute", err, "command %q", cmdName)
	}
	if len(frame) < cmdtransport.HeaderLen {
		return ferr.Newf(ferr.ErrMalformedFrame, "icd.Execute", "command %q serializes to %d bytes, shorter than a frame header", cmdName, len(frame))
	}
	e.serial++
	serial := e.serial
	binary.LittleEndian.PutUint32(frame[8:12], serial)
	binary.LittleEndian.PutUint32(frame[12:16], uint32(len(frame)))
	cmdID := binary.LittleEndian.Uint32(frame[4:8])

	if _, err := e.Transport.SendBytes(frame); err != nil {
		return err
	}

	checkHead := e.CheckRecvHead
	if cmd.Mode != nil {
		checkHead = *cmd.Mode
	}
	reply, err := e.readReply(cmdName, cmdID, serial, checkHead, cmd.Recv)
	if err != nil {
		return err
	}
	return e.deserialize(cmd.Recv, reply)
}

// readReply reads the complete reply frame. In head-checked mode the 16
// byte header is read first and validated (magic, echoed command id, echoed
// serial), then the body; in unchecked mode the recv schema's type-tag
// sizes are summed and exactly that many bytes are read. Either way the
// returned slice covers the whole frame, so the recv walk's cursor starts
// at byte 0.
func (e *Engine) readReply(cmdName string, cmdID, serial uint32, checkHead bool, recv []Elem) ([]byte, error) {
	if checkHead {
		hdr, err := e.Transport.RecvBytes(cmdtransport.HeaderLen)
		if err != nil {
			return nil, err
		}
		h := cmdtransport.ParseHeader(hdr)
		if h.Magic != cmdtransport.MagicReply {
			return nil, ferr.Newf(ferr.ErrMagicMismatch, "icd.Execute", "command %q: got 0x%08x", cmdName, h.Magic)
		}
		if h.CommandID != cmdID {
			return nil, ferr.Newf(ferr.ErrMalformedFrame, "icd.Execute", "command %q: id echo mismatch", cmdName)
		}
		if h.Serial != serial {
			return nil, ferr.Newf(ferr.ErrSerialMismatch, "icd.Execute", "command %q: got %d want %d", cmdName, h.Serial, serial)
		}
		if h.Length < cmdtransport.HeaderLen {
			return nil, ferr.Newf(ferr.ErrMalformedFrame, "icd.Execute", "command %q: total_length %d", cmdName, h.Length)
		}
		body, err := e.Transport.RecvBytes(int(h.Length) - cmdtransport.HeaderLen)
		if err != nil {
			return nil, err
		}
		return append(hdr, body...), nil
	}
	total := 0
	for _, el := range recv {
		var tag TypeTag
		switch el.Kind {
		case elemLiteral:
			tag = el.Tag
		case elemParamRef:
			p, ok := e.doc.Params[el.Name]
			if !ok {
				return nil, ferr.Newf(ferr.ErrSchema, "icd.Execute", "command %q: unknown parameter %q in recv schema", cmdName, el.Name)
			}
			tag = p.Tag
		default:
			continue
		}
		n, err := sizeOfTag(tag)
		if err != nil {
			return nil, err
		}
		total += n
	}
	return e.Transport.RecvBytes(total)
}

// ExecuteFromPName executes every command whose send schema references
// paramName, stopping at the first failure. The commands run in the order
// the load-time index recorded them, which is not the document order.
func (e *Engine) ExecuteFromPName(paramName string) error {
	e.mu.RLock()
	names := append([]string(nil), e.doc.paramToCommands[paramName]...)
	e.mu.RUnlock()
	for _, n := range names {
		if err := e.Execute(n); err != nil {
			return err
		}
	}
	return nil
}

//
// Serialization
//

// serialize concatenates the packed bytes of every element in elems,
// producing the complete frame. The header words are ordinary literal
// elements at the front of the send schema; the caller (Execute) overwrites
// the serial and total-length fields afterwards and rejects any result
// shorter than the 16 byte header minimum.
func (e *Engine) serialize(elems []Elem, arrays [][]byte) ([]byte, error) {
	var buf []byte
	for _, el := range elems {
		b, err := e.serializeElem(el, arrays)
		if err != nil {
			return nil, err
		}
		buf = append(buf, b...)
	}
	return buf, nil
}

func (e *Engine) serializeElem(el Elem, arrays [][]byte) ([]byte, error) {
	switch el.Kind {
	case elemLiteral:
		v := el.Value
		if el.Expr != nil {
			nv, err := evalExpr(el.Expr, v)
			if err != nil {
				return nil, err
			}
			v = nv
		}
		return packValue(el.Tag, v)

	case elemParamRef:
		p, ok := e.doc.Params[el.Name]
		if !ok {
			// Unknown parameter names default-pack as uint32(0) rather
			// than failing the whole command.
			return packValue(TagUint32, 0)
		}
		if p.Tag == TagFile || p.Tag == TagFileLength {
			e.fileCtx = p
			if p.Tag == TagFile {
				return readFile(p.Current.(string))
			}
			return fileLengthBytes(p.Current.(string))
		}
		v := p.Current.(float64)
		if p.Expr != nil {
			nv, err := evalExpr(p.Expr, v)
			if err != nil {
				return nil, err
			}
			v = nv
		}
		return packValue(p.Tag, v)

	case elemFileToken:
		if e.fileCtx == nil {
			return nil, ferr.Newf(ferr.ErrSchema, "icd.serialize", "__file__ with no file parameter in play")
		}
		return readFile(e.fileCtx.Current.(string))

	case elemFileLengthToken:
		if e.fileCtx == nil {
			return nil, ferr.Newf(ferr.ErrSchema, "icd.serialize", "__filelength__ with no file parameter in play")
		}
		return fileLengthBytes(e.fileCtx.Current.(string))

	case elemArrayToken:
		if el.ArrayIndex < 0 || el.ArrayIndex >= len(arrays) {
			return nil, ferr.Newf(ferr.ErrSchema, "icd.serialize", "__array__%d out of range (have %d arrays)", el.ArrayIndex, len(arrays))
		}
		return arrays[el.ArrayIndex], nil

	case elemSeqRef:
		seq, ok := e.doc.Sequences[el.Name]
		if !ok {
			return nil, ferr.Newf(ferr.ErrSchema, "icd.serialize", "unknown sequence %q", el.Name)
		}
		return e.serialize(seq, arrays)

	default:
		return nil, ferr.Newf(ferr.ErrSchema, "icd.serialize", "unhandled element kind %d", el.Kind)
	}
}

func readFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, ferr.Wrap(ferr.ErrSchema, "icd.readFile", err, "reading %s", path)
	}
	return b, nil
}

func fileLengthBytes(path string) ([]byte, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, ferr.Wrap(ferr.ErrSchema, "icd.fileLengthBytes", err, "stat %s", path)
	}
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, uint32(fi.Size()))
	return out, nil
}

func packValue(tag TypeTag, v float64) ([]byte, error) {
	switch tag {
	case TagUint8:
		return []byte{uint8(v)}, nil
	case TagInt8:
		return []byte{byte(int8(v))}, nil
	case TagUint16:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(v))
		return b, nil
	case TagInt16:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(int16(v)))
		return b, nil
	case TagUint32, TagFileLength:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(v))
		return b, nil
	case TagInt32:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(int32(v)))
		return b, nil
	case TagFloat:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
		return b, nil
	case TagDouble:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
		return b, nil
	default:
		return nil, ferr.Newf(ferr.ErrSchema, "icd.packValue", "cannot pack type-tag %q", tag)
	}
}

func unpackValue(tag TypeTag, b []byte) (float64, error) {
	switch tag {
	case TagUint8:
		return float64(b[0]), nil
	case TagInt8:
		return float64(int8(b[0])), nil
	case TagUint16:
		return float64(binary.LittleEndian.Uint16(b)), nil
	case TagInt16:
		return float64(int16(binary.LittleEndian.Uint16(b))), nil
	case TagUint32, TagFileLength:
		return float64(binary.LittleEndian.Uint32(b)), nil
	case TagInt32:
		return float64(int32(binary.LittleEndian.Uint32(b))), nil
	case TagFloat:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))), nil
	case TagDouble:
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
	default:
		return 0, ferr.Newf(ferr.ErrSchema, "icd.unpackValue", "cannot unpack type-tag %q", tag)
	}
}

//
// Deserialization
//

// deserialize walks the recv schema over the reply frame. Updates are
// staged and only committed once the whole walk succeeds, so a failed
// Execute leaves the parameter store untouched.
func (e *Engine) deserialize(recv []Elem, reply []byte) error {
	type update struct {
		p *Param
		v float64
	}
	var updates []update
	cursor := 0
	for _, el := range recv {
		switch el.Kind {
		case elemLiteral:
			n, err := sizeOfTag(el.Tag)
			if err != nil {
				return err
			}
			cursor += n // literal elements are skipped, but still advance the cursor

		case elemParamRef:
			p, ok := e.doc.Params[el.Name]
			if !ok {
				return ferr.Newf(ferr.ErrSchema, "icd.deserialize", "unknown parameter %q in recv schema", el.Name)
			}
			n, err := sizeOfTag(p.Tag)
			if err != nil {
				return err
			}
			if cursor+n > len(reply) {
				return ferr.Newf(ferr.ErrMalformedFrame, "icd.deserialize", "reply too short for parameter %q", el.Name)
			}
			v, err := unpackValue(p.Tag, reply[cursor:cursor+n])
			if err != nil {
				return err
			}
			updates = append(updates, update{p, v})
			cursor += n

		default:
			// file/array/seq tokens are not meaningful in a recv schema.
			return ferr.Newf(ferr.ErrSchema, "icd.deserialize", "unsupported recv element kind %d", el.Kind)
		}
	}
	for _, u := range updates {
		u.p.Current = u.v
	}
	return nil
}
