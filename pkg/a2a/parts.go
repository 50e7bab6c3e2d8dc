// Copyright 2026 © The Agora Authors
// SPDX-License-Identifier: Apache-2.0

package a2a

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jllopis/agora/pkg/errors"
)

// PartKind discriminates the closed set of part variants.
type PartKind string

const (
	PartKindText PartKind = "text"
	PartKindFile PartKind = "file"
	PartKindData PartKind = "data"
)

// FileContent holds a file either inline (base64 bytes) or by URI.
type FileContent struct {
	Bytes    string `json:"bytes,omitempty"`
	URI      string `json:"uri,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Part is one piece of message or artifact content. Exactly one of Text,
// File or Data is meaningful, selected by Kind.
type Part struct {
	Kind     PartKind
	Text     string
	File     *FileContent
	Data     map[string]any
	Metadata map[string]any
}

// TextPart builds a text part.
func TextPart(text string) Part {
	return Part{Kind: PartKindText, Text: text}
}

// FilePart builds a file part.
func FilePart(file FileContent) Part {
	return Part{Kind: PartKindFile, File: &file}
}

// DataPart builds a structured data part.
func DataPart(data map[string]any) Part {
	return Part{Kind: PartKindData, Data: data}
}

type wirePart struct {
	Kind     PartKind       `json:"kind,omitempty"`
	Type     PartKind       `json:"type,omitempty"`
	Text     *string        `json:"text,omitempty"`
	File     *FileContent   `json:"file,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MarshalJSON emits the kind-discriminated wire form.
func (p Part) MarshalJSON() ([]byte, error) {
	out := wirePart{Kind: p.Kind, Metadata: p.Metadata}
	switch p.Kind {
	case PartKindText:
		text := p.Text
		out.Text = &text
	case PartKindFile:
		out.File = p.File
		if out.File == nil {
			out.File = &FileContent{}
		}
	case PartKindData:
		out.Data = p.Data
		if out.Data == nil {
			out.Data = map[string]any{}
		}
	default:
		return nil, fmt.Errorf("unknown part kind %q", p.Kind)
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts "kind", the legacy "type" key, or infers the
// variant from the payload shape.
func (p *Part) UnmarshalJSON(raw []byte) error {
	var in wirePart
	if err := json.Unmarshal(raw, &in); err != nil {
		return err
	}
	kind := in.Kind
	if kind == "" {
		kind = in.Type
	}
	if kind == "" {
		switch {
		case in.Text != nil:
			kind = PartKindText
		case in.File != nil:
			kind = PartKindFile
		case in.Data != nil:
			kind = PartKindData
		}
	}
	*p = Part{Kind: kind, Metadata: in.Metadata}
	switch kind {
	case PartKindText:
		if in.Text == nil {
			return fmt.Errorf("text part without text")
		}
		p.Text = *in.Text
	case PartKindFile:
		if in.File == nil || (in.File.Bytes == "" && in.File.URI == "") {
			return fmt.Errorf("file part requires bytes or uri")
		}
		p.File = in.File
	case PartKindData:
		if in.Data == nil {
			return fmt.Errorf("data part without data")
		}
		p.Data = in.Data
	default:
		return fmt.Errorf("unknown part kind %q", kind)
	}
	return nil
}

func (p Part) clone() Part {
	out := p
	if p.File != nil {
		f := *p.File
		out.File = &f
	}
	out.Data = cloneMap(p.Data)
	out.Metadata = cloneMap(p.Metadata)
	return out
}

// ExtractText concatenates the text parts of a message, one per line.
func ExtractText(msg *Message) string {
	if msg == nil {
		return ""
	}
	var parts []string
	for _, part := range msg.Parts {
		if part.Kind == PartKindText && part.Text != "" {
			parts = append(parts, part.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ValidateMessage checks the minimal shape of an inbound message. Failures
// carry errors.CodeInvalidInput.
func ValidateMessage(msg *Message) error {
	if msg == nil {
		return errors.New(errors.CodeInvalidInput, "message is required", nil)
	}
	if msg.Role != RoleUser && msg.Role != RoleAgent {
		return errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid message role %q", msg.Role), nil)
	}
	if len(msg.Parts) == 0 {
		return errors.New(errors.CodeInvalidInput, "message parts are required", nil)
	}
	return nil
}
