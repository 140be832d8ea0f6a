package epmsg

import "encoding/xml"

// AppMessage is the Application channel's decrypted XML callback body.
// Field names follow the EP Application API's PascalCase XML convention.
type AppMessage struct {
	XMLName      xml.Name `xml:"xml"`
	ToUserName   string   `xml:"ToUserName"`
	FromUserName string   `xml:"FromUserName"`
	CreateTime   int64    `xml:"CreateTime"`
	MsgType      string   `xml:"MsgType"`
	Content      string   `xml:"Content,omitempty"`
	MsgId        int64    `xml:"MsgId,omitempty"`
	AgentID      int64    `xml:"AgentID"`
	PicUrl       string   `xml:"PicUrl,omitempty"`
	MediaId      string   `xml:"MediaId,omitempty"`
	Format       string   `xml:"Format,omitempty"`
	Recognition  string   `xml:"Recognition,omitempty"`
	ThumbMediaId string   `xml:"ThumbMediaId,omitempty"`
	Event        string   `xml:"Event,omitempty"`
	EventKey     string   `xml:"EventKey,omitempty"`
}

// AppTextReply is a plaintext outbound text reply in the Application
// channel's XML shape.
type AppTextReply struct {
	XMLName      xml.Name `xml:"xml"`
	ToUserName   CDATA    `xml:"ToUserName"`
	FromUserName CDATA    `xml:"FromUserName"`
	CreateTime   int64    `xml:"CreateTime"`
	MsgType      CDATA    `xml:"MsgType"`
	Content      CDATA    `xml:"Content"`
}

// CDATA wraps a string so it marshals as <Tag><![CDATA[...]]></Tag>, the
// format EP's Application channel requires for every text-bearing field.
type CDATA struct {
	Text string `xml:",cdata"`
}

// NewAppTextReply builds a ready-to-seal text reply, swapping to/from as
// the Application protocol requires for outbound messages.
func NewAppTextReply(toUser, fromUser, content string, createTime int64) AppTextReply {
	return AppTextReply{
		ToUserName:   CDATA{Text: toUser},
		FromUserName: CDATA{Text: fromUser},
		CreateTime:   createTime,
		MsgType:      CDATA{Text: "text"},
		Content:      CDATA{Text: content},
	}
}
