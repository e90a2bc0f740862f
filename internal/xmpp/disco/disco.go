package disco

import (
	"encoding/xml"
	"fmt"

	"github.com/meszmate/inbox/internal/xmpp/wire"
)

// NSInfo is the service discovery info namespace
const NSInfo = "http://jabber.org/protocol/disco#info"

// Identity represents a disco identity
type Identity struct {
	XMLName  xml.Name `xml:"identity"`
	Category string   `xml:"category,attr"`
	Type     string   `xml:"type,attr"`
	Name     string   `xml:"name,attr,omitempty"`
}

// Feature represents a disco feature
type Feature string

// Features the receiving side understands
const (
	FeatureDisco          Feature = NSInfo
	FeatureChatStates     Feature = wire.NSChatStates
	FeatureReceipts       Feature = wire.NSReceipts
	FeatureServerReceipts Feature = wire.NSServerReceipts
	FeatureE2E            Feature = wire.NSE2E
	FeatureOOB            Feature = wire.NSOOB
	FeatureDelay          Feature = wire.NSDelay
)

// Info represents disco info response
type Info struct {
	Identities []Identity
	Features   []Feature
}

// ClientInfo is what we answer disco#info queries with
func ClientInfo(name string) Info {
	return Info{
		Identities: []Identity{{Category: "client", Type: "pc", Name: name}},
		Features: []Feature{
			FeatureDisco,
			FeatureChatStates,
			FeatureReceipts,
			FeatureServerReceipts,
			FeatureE2E,
			FeatureOOB,
			FeatureDelay,
		},
	}
}

// HasFeature checks if info lists feature
func (i Info) HasFeature(feature Feature) bool {
	for _, f := range i.Features {
		if f == feature {
			return true
		}
	}
	return false
}

type featureElem struct {
	XMLName xml.Name `xml:"feature"`
	Var     string   `xml:"var,attr"`
}

// Query is the disco#info payload of an IQ
type Query struct {
	XMLName    xml.Name `xml:"http://jabber.org/protocol/disco#info query"`
	Node       string   `xml:"node,attr,omitempty"`
	Identities []Identity    `xml:"identity"`
	Features   []featureElem `xml:"feature"`
}

// IQ is an info request or its result
type IQ struct {
	XMLName xml.Name `xml:"jabber:client iq"`
	ID      string   `xml:"id,attr"`
	From    string   `xml:"from,attr,omitempty"`
	To      string   `xml:"to,attr,omitempty"`
	Type    string   `xml:"type,attr"`
	Query   *Query
}

// ReadRequest decodes an iq element from r. It reports false for anything
// that is not a disco#info get.
func ReadRequest(r xml.TokenReader) (*IQ, bool, error) {
	var iq IQ
	if err := xml.NewTokenDecoder(r).Decode(&iq); err != nil {
		return nil, false, fmt.Errorf("decode iq: %w", err)
	}
	if iq.Type != "get" || iq.Query == nil {
		return &iq, false, nil
	}
	return &iq, true, nil
}

// Response answers req with info
func (i Info) Response(req *IQ) IQ {
	q := &Query{Node: req.Query.Node, Identities: i.Identities}
	for _, f := range i.Features {
		q.Features = append(q.Features, featureElem{Var: string(f)})
	}
	return IQ{
		ID:    req.ID,
		From:  req.To,
		To:    req.From,
		Type:  "result",
		Query: q,
	}
}
