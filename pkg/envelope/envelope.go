// Package envelope decodes inbound platform XML messages and encodes text replies.
package envelope

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strconv"
	"time"
	"unicode/utf8"

	"wxreply/pkg/failure"
)

// Message kinds sent by the platform.
const (
	KindText       = "text"
	KindImage      = "image"
	KindVoice      = "voice"
	KindVideo      = "video"
	KindShortVideo = "shortvideo"
	KindLocation   = "location"
	KindLink       = "link"
	KindEvent      = "event"
)

// AckBody is the platform's "received, no action" response body.
const AckBody = "success"

const ContentType = "application/xml"

// InboundMessage is one decoded platform message. Absent elements decode to "".
type InboundMessage struct {
	ToUser     string
	FromUser   string
	CreateTime string
	MsgType    string
	Content    string
	MsgID      string
}

// OutboundMessage is a text reply. CreateTime and MsgType are filled in by Encode.
type OutboundMessage struct {
	ToUser   string
	FromUser string
	Content  string
}

type inboundXML struct {
	ToUserName   string `xml:"ToUserName"`
	FromUserName string `xml:"FromUserName"`
	CreateTime   string `xml:"CreateTime"`
	MsgType      string `xml:"MsgType"`
	Content      string `xml:"Content"`
	MsgID        string `xml:"MsgId"`
}

type cdata struct {
	Value string `xml:",cdata"`
}

type replyXML struct {
	XMLName      xml.Name `xml:"xml"`
	ToUserName   cdata    `xml:"ToUserName"`
	FromUserName cdata    `xml:"FromUserName"`
	CreateTime   int64    `xml:"CreateTime"`
	MsgType      cdata    `xml:"MsgType"`
	Content      cdata    `xml:"Content"`
}

type requestXML struct {
	XMLName      xml.Name `xml:"xml"`
	ToUserName   cdata    `xml:"ToUserName"`
	FromUserName cdata    `xml:"FromUserName"`
	CreateTime   string   `xml:"CreateTime"`
	MsgType      cdata    `xml:"MsgType"`
	Content      cdata    `xml:"Content"`
	MsgID        string   `xml:"MsgId,omitempty"`
}

// Decode parses one envelope. The root element name is not checked and unknown children
// are ignored; empty input, malformed XML and content after the root element fail with
// failure.DecodeFailed.
func Decode(raw []byte) (InboundMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return InboundMessage{}, failure.New(failure.DecodeFailed, "empty envelope")
	}

	dec := xml.NewDecoder(bytes.NewReader(raw))

	var doc inboundXML
	if err := dec.Decode(&doc); err != nil {
		return InboundMessage{}, failure.Wrap(failure.DecodeFailed, "parse envelope", err)
	}

	if err := ensureNoTrailingContent(dec); err != nil {
		return InboundMessage{}, err
	}

	return InboundMessage{
		ToUser:     doc.ToUserName,
		FromUser:   doc.FromUserName,
		CreateTime: doc.CreateTime,
		MsgType:    doc.MsgType,
		Content:    doc.Content,
		MsgID:      doc.MsgID,
	}, nil
}

func ensureNoTrailingContent(dec *xml.Decoder) error {
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return failure.Wrap(failure.DecodeFailed, "parse envelope", err)
		}

		switch typed := tok.(type) {
		case xml.StartElement:
			return failure.New(failure.DecodeFailed, "unexpected element <"+typed.Name.Local+"> after root")
		case xml.CharData:
			if len(bytes.TrimSpace(typed)) > 0 {
				return failure.New(failure.DecodeFailed, "unexpected text after root")
			}
		}
	}
}

// Encode renders a text reply envelope stamped with now. Free-text fields are written as
// CDATA; a "]]>" inside them is split across sections so decoding restores it exactly.
func Encode(msg OutboundMessage, now time.Time) (string, error) {
	for _, field := range []string{msg.ToUser, msg.FromUser, msg.Content} {
		if err := checkXMLText(field); err != nil {
			return "", err
		}
	}

	out, err := xml.Marshal(replyXML{
		ToUserName:   cdata{msg.ToUser},
		FromUserName: cdata{msg.FromUser},
		CreateTime:   now.Unix(),
		MsgType:      cdata{KindText},
		Content:      cdata{msg.Content},
	})
	if err != nil {
		return "", failure.Wrap(failure.EncodeFailed, "marshal reply", err)
	}

	return string(out), nil
}

// EncodeInbound renders msg the way the platform posts it. An empty CreateTime is
// stamped with the current time.
func EncodeInbound(msg InboundMessage) (string, error) {
	for _, field := range []string{msg.ToUser, msg.FromUser, msg.MsgType, msg.Content} {
		if err := checkXMLText(field); err != nil {
			return "", err
		}
	}

	createTime := msg.CreateTime
	if createTime == "" {
		createTime = strconv.FormatInt(time.Now().Unix(), 10)
	}

	out, err := xml.Marshal(requestXML{
		ToUserName:   cdata{msg.ToUser},
		FromUserName: cdata{msg.FromUser},
		CreateTime:   createTime,
		MsgType:      cdata{msg.MsgType},
		Content:      cdata{msg.Content},
		MsgID:        msg.MsgID,
	})
	if err != nil {
		return "", failure.Wrap(failure.EncodeFailed, "marshal message", err)
	}

	return string(out), nil
}

func checkXMLText(s string) error {
	if !utf8.ValidString(s) {
		return failure.New(failure.EncodeFailed, "text is not valid UTF-8")
	}

	for _, r := range s {
		if !isXMLChar(r) {
			return failure.New(failure.EncodeFailed, "text contains character "+strconv.QuoteRune(r)+" not allowed in XML")
		}
	}

	return nil
}

// isXMLChar follows the XML 1.0 Char production.
func isXMLChar(r rune) bool {
	return r == 0x09 ||
		r == 0x0A ||
		r == 0x0D ||
		r >= 0x20 && r <= 0xD7FF ||
		r >= 0xE000 && r <= 0xFFFD ||
		r >= 0x10000 && r <= 0x10FFFF
}
