// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"errors"
	"fmt"
	"time"

	"github.com/jcmturner/gokrb5/v8/iana/chksumtype"
	"github.com/jcmturner/gokrb5/v8/iana/errorcode"
	"github.com/jcmturner/gokrb5/v8/iana/flags"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/golang-auth/gss-handshake"
)

// requestable are the context flags an initiator can ask for.  Replay and
// sequence detection are passed through as requested.  They describe
// per-message token checks only; no replay cache is kept, so a replayed
// AP-REQ is not detected.  Confidentiality and integrity are always
// available once a context is established, and mutual authentication is
// granted when the AP-REP exchange happens.
const requestable = gssapi.ContextFlagMutual | gssapi.ContextFlagReplay | gssapi.ContextFlagSequence |
	gssapi.ContextFlagConf | gssapi.ContextFlagInteg

const alwaysGranted = gssapi.ContextFlagConf | gssapi.ContextFlagInteg

type ctxState int

const (
	ctxStart ctxState = iota
	ctxWaitingForReply
	ctxEstablished
	ctxFailed
	ctxDeleted
)

type secContext struct {
	initiator bool
	skew      time.Duration
	cred      *credential // released on Delete when owned
	ownCred   bool
	kt        *keytab.Keytab
	acceptAs  *principal
	tickets   TicketSource

	state      ctxState
	target     principal
	reqFlags   gssapi.ContextFlag
	flags      gssapi.ContextFlag
	ticket     messages.Ticket
	sessionKey types.EncryptionKey
	cTime      time.Time
	cusec      int
	client     principal
	server     principal
	endTime    time.Time
}

var _ gssapi.SecContext = (*secContext)(nil)

// InitSecContext starts a context with the service name.  The service
// ticket is requested by the first call to Continue.
func (p *Provider) InitSecContext(name gssapi.GssName, opts ...gssapi.InitSecContextOption) (gssapi.SecContext, error) {
	o := gssapi.InitSecContextOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	if o.Mech != nil && o.Mech != gssapi.GSS_MECH_KRB5 {
		return nil, gssapi.NewFatalStatus(gssapi.ErrBadMech, 0, fmt.Errorf("mechanism %s", o.Mech))
	}

	kn, ok := name.(*krbName)
	if !ok || kn == nil {
		return nil, gssapi.NewFatalStatus(gssapi.ErrBadName, 0, errNotOurName)
	}
	if kn.released.Load() {
		return nil, gssapi.ErrBadName
	}

	ctx := &secContext{initiator: true, skew: p.skew, target: kn.principal, reqFlags: o.Flags & requestable}

	if err := ctx.useCredential(p, o.Credential, gssapi.CredUsageInitiateOnly); err != nil {
		return nil, err
	}
	if !ctx.cred.canInitiate() {
		return nil, gssapi.NewFatalStatus(gssapi.ErrNoCred, 0, errNoInitiatorPart)
	}
	ctx.tickets = ctx.cred.tickets

	return ctx, nil
}

// AcceptSecContext starts an acceptor context.  Without a credential the
// default keytab is used and any principal in it is accepted.
func (p *Provider) AcceptSecContext(opts ...gssapi.AcceptSecContextOption) (gssapi.SecContext, error) {
	o := gssapi.AcceptSecContextOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	ctx := &secContext{skew: p.skew}
	if err := ctx.useCredential(p, o.Credential, gssapi.CredUsageAcceptOnly); err != nil {
		return nil, err
	}
	if !ctx.cred.canAccept() {
		return nil, gssapi.NewFatalStatus(gssapi.ErrNoCred, 0, errNoAcceptorPart)
	}
	ctx.kt, ctx.acceptAs = ctx.cred.keytab, ctx.cred.name

	return ctx, nil
}

func (ctx *secContext) useCredential(p *Provider, cred gssapi.Credential, usage gssapi.CredUsage) error {
	if cred == nil {
		c, err := p.acquire(nil, usage, &credStore{})
		if err != nil {
			return err
		}
		ctx.cred, ctx.ownCred = c, true
		return nil
	}

	c, ok := cred.(*credential)
	if !ok {
		return gssapi.NewFatalStatus(gssapi.ErrNoCred, 0, errors.New("credential was not issued by the krb5 provider"))
	}
	if c.released.Load() {
		return gssapi.NewFatalStatus(gssapi.ErrNoCred, 0, errCredReleased)
	}
	ctx.cred = c

	return nil
}

func (ctx *secContext) ContinueNeeded() bool {
	return ctx.state == ctxWaitingForReply
}

func (ctx *secContext) Continue(tokIn []byte) ([]byte, error) {
	switch ctx.state {
	case ctxEstablished:
		return nil, gssapi.NewFatalStatus(gssapi.ErrFailure, 0, errContextComplete)
	case ctxFailed:
		return nil, gssapi.NewFatalStatus(gssapi.ErrFailure, 0, errContextFailed)
	case ctxDeleted:
		return nil, gssapi.ErrNoContext
	}

	var (
		tokOut []byte
		err    error
	)
	if ctx.initiator {
		tokOut, err = ctx.continueInitiator(tokIn)
	} else {
		tokOut, err = ctx.continueAcceptor(tokIn)
	}
	if err != nil {
		ctx.state = ctxFailed
	}

	return tokOut, err
}

func (ctx *secContext) continueInitiator(tokIn []byte) ([]byte, error) {
	if ctx.state == ctxWaitingForReply {
		return nil, ctx.readAPRep(tokIn)
	}

	if len(tokIn) != 0 {
		return nil, gssapi.NewFatalStatus(gssapi.ErrDefectiveToken, 0, errUnexpectedToken)
	}

	tkt, key, err := ctx.tickets.ServiceTicket(ctx.target.spn())
	if err != nil {
		return nil, statusFor(err, gssapi.ErrNoCred)
	}
	ctx.ticket, ctx.sessionKey = tkt, key
	ctx.server = principalFrom(tkt.SName, tkt.Realm)
	ctx.client = principalFrom(ctx.tickets.Client())

	apreq, err := ctx.newAPReq()
	if err != nil {
		return nil, statusFor(err, gssapi.ErrFailure)
	}

	tok := newAPReqToken(apreq)
	tokOut, err := tok.marshal()
	if err != nil {
		return nil, gssapi.NewFatalStatus(gssapi.ErrFailure, 0, err)
	}

	if ctx.reqFlags&gssapi.ContextFlagMutual != 0 {
		ctx.state = ctxWaitingForReply
	} else {
		ctx.establish(ctx.reqFlags)
	}

	return tokOut, nil
}

func (ctx *secContext) newAPReq() (messages.APReq, error) {
	cname, realm := ctx.tickets.Client()

	auth, err := types.NewAuthenticator(realm, cname)
	if err != nil {
		return messages.APReq{}, fmt.Errorf("generating authenticator: %w", err)
	}

	// MIT compatibility
	auth.SeqNumber &= 0x3fffffff
	auth.Cksum = types.Checksum{
		CksumType: chksumtype.GSSAPI,
		Checksum:  newAuthenticatorChksum(ctx.reqFlags),
	}

	apreq, err := messages.NewAPReq(ctx.ticket, ctx.sessionKey, auth)
	if err != nil {
		return messages.APReq{}, err
	}
	if ctx.reqFlags&gssapi.ContextFlagMutual != 0 {
		types.SetFlag(&apreq.APOptions, flags.APOptionMutualRequired)
	}

	ctx.cTime, ctx.cusec = auth.CTime, auth.Cusec

	return apreq, nil
}

func (ctx *secContext) readAPRep(tokIn []byte) error {
	var tok contextToken
	if err := tok.unmarshal(tokIn); err != nil {
		return statusFor(err, gssapi.ErrDefectiveToken)
	}

	switch {
	case tok.krbError != nil:
		return krbStatus(*tok.krbError)
	case tok.apRep == nil:
		return gssapi.NewFatalStatus(gssapi.ErrDefectiveToken, uint32(errorcode.KRB_AP_ERR_MSG_TYPE), errUnexpectedToken)
	}

	part, err := tok.apRep.decryptEncPart(ctx.sessionKey)
	if err != nil {
		return gssapi.NewFatalStatus(gssapi.ErrBadMic, uint32(errorcode.KRB_AP_ERR_BAD_INTEGRITY), err)
	}

	// compare seconds, cTime carries a monotonic reading
	if part.CTime.Unix() != ctx.cTime.Unix() || part.Cusec != ctx.cusec {
		return gssapi.NewFatalStatus(gssapi.ErrDefectiveToken, uint32(errorcode.KRB_AP_ERR_MUT_FAIL), errMutualFailed)
	}

	ctx.establish(ctx.reqFlags | gssapi.ContextFlagMutual)

	return nil
}

func (ctx *secContext) continueAcceptor(tokIn []byte) ([]byte, error) {
	var tok contextToken
	if err := tok.unmarshal(tokIn); err != nil {
		return nil, statusFor(err, gssapi.ErrDefectiveToken)
	}

	switch {
	case tok.krbError != nil:
		return nil, krbStatus(*tok.krbError)
	case tok.apReq == nil:
		return krbErrorReply(messages.NewKRBError(types.PrincipalName{}, "", errorcode.KRB_AP_ERR_MSG_TYPE, "expected an AP-REQ"))
	}

	apreq := tok.apReq
	if ctx.acceptAs != nil && !ctx.acceptAs.matches(apreq.Ticket.SName, apreq.Ticket.Realm) {
		return krbErrorReply(messages.NewKRBError(apreq.Ticket.SName, apreq.Ticket.Realm, errorcode.KRB_AP_ERR_NOT_US,
			fmt.Sprintf("ticket is not for %s", ctx.acceptAs.display)))
	}

	if ke := verifyAPReq(ctx.kt, apreq, ctx.skew); ke != nil {
		return krbErrorReply(*ke)
	}

	ctx.ticket = apreq.Ticket
	ctx.sessionKey = apreq.Ticket.DecryptedEncPart.Key
	ctx.cTime, ctx.cusec = apreq.Authenticator.CTime, apreq.Authenticator.Cusec
	ctx.client = principalFrom(apreq.Ticket.DecryptedEncPart.CName, apreq.Ticket.DecryptedEncPart.CRealm)
	ctx.server = principalFrom(apreq.Ticket.SName, apreq.Ticket.Realm)

	granted := chksumFlags(apreq.Authenticator.Cksum.Checksum) & requestable &^ gssapi.ContextFlagMutual

	if !types.IsFlagSet(&apreq.APOptions, flags.APOptionMutualRequired) {
		ctx.establish(granted)
		return nil, nil
	}

	rep, err := newAPRep(ctx.ticket, ctx.sessionKey, ctx.cTime, ctx.cusec)
	if err != nil {
		return nil, gssapi.NewFatalStatus(gssapi.ErrFailure, 0, err)
	}
	out := newAPRepToken(rep)
	tokOut, err := out.marshal()
	if err != nil {
		return nil, gssapi.NewFatalStatus(gssapi.ErrFailure, 0, err)
	}

	ctx.establish(granted | gssapi.ContextFlagMutual)

	return tokOut, nil
}

func (ctx *secContext) establish(requested gssapi.ContextFlag) {
	ctx.state = ctxEstablished
	ctx.flags = requested | alwaysGranted
	// initiators cannot read their ticket, so only acceptors know the end time
	ctx.endTime = ctx.ticket.DecryptedEncPart.EndTime
}

// krbErrorReply returns a KRB-ERROR token for the peer along with the
// matching status.
func krbErrorReply(ke messages.KRBError) ([]byte, error) {
	tok := newKrbErrorToken(ke)
	out, err := tok.marshal()
	if err != nil {
		out = nil
	}

	return out, krbStatus(ke)
}

// verifyAPReq checks the ticket and authenticator in apreq, RFC 4120
// § 3.2.3, and the GSSAPI checksum, RFC 4121 § 4.1.1.
func verifyAPReq(kt *keytab.Keytab, apreq *messages.APReq, skew time.Duration) *messages.KRBError {
	sname, realm := apreq.Ticket.SName, apreq.Ticket.Realm
	reject := func(code int32, text string) *messages.KRBError {
		ke := messages.NewKRBError(sname, realm, code, text)
		return &ke
	}

	if err := apreq.Ticket.DecryptEncPart(kt, &sname); err != nil {
		var ke messages.KRBError
		if errors.As(err, &ke) {
			return &ke
		}
		return reject(errorcode.KRB_AP_ERR_BAD_INTEGRITY, "could not decrypt ticket")
	}

	if ok, err := apreq.Ticket.Valid(skew); !ok || err != nil {
		var ke messages.KRBError
		if errors.As(err, &ke) {
			return &ke
		}
		return reject(errorcode.KRB_AP_ERR_TKT_NYV, "ticket is not valid")
	}

	if err := apreq.DecryptAuthenticator(apreq.Ticket.DecryptedEncPart.Key); err != nil {
		return reject(errorcode.KRB_AP_ERR_BAD_INTEGRITY, "could not decrypt authenticator")
	}

	auth := apreq.Authenticator
	switch {
	case auth.Cksum.CksumType != chksumtype.GSSAPI:
		return reject(errorcode.KRB_AP_ERR_BADMATCH, "wrong authenticator checksum type")
	case len(auth.Cksum.Checksum) < authChksumLen:
		return reject(errorcode.KRB_AP_ERR_BADMATCH, "authenticator checksum too short")
	case !auth.CName.Equal(apreq.Ticket.DecryptedEncPart.CName):
		return reject(errorcode.KRB_AP_ERR_BADMATCH, "client name in authenticator does not match the ticket")
	}

	ct := auth.CTime.Add(time.Duration(auth.Cusec) * time.Microsecond)
	now := time.Now().UTC()
	if now.Sub(ct) > skew || ct.Sub(now) > skew {
		return reject(errorcode.KRB_AP_ERR_SKEW, fmt.Sprintf("clock skew with client greater than %v", skew))
	}

	return nil
}

func (ctx *secContext) Inquire() (*gssapi.SecContextInfo, error) {
	if ctx.state == ctxDeleted {
		return nil, gssapi.ErrNoContext
	}

	info := &gssapi.SecContextInfo{
		Mech:             gssapi.GSS_MECH_KRB5,
		Flags:            ctx.flags,
		ExpiresAt:        gssapi.LifetimeAt(ctx.endTime),
		LocallyInitiated: ctx.initiator,
		FullyEstablished: ctx.state == ctxEstablished,
	}

	if ctx.client.display != "" {
		info.InitiatorName = ctx.client.name()
	}
	if ctx.server.display != "" {
		info.AcceptorName = ctx.server.name()
	}

	return info, nil
}

// Delete discards the session key and releases a credential the context
// acquired for itself.
func (ctx *secContext) Delete() error {
	if ctx.state == ctxDeleted {
		return gssapi.ErrNoContext
	}
	ctx.state = ctxDeleted
	ctx.sessionKey = types.EncryptionKey{}
	ctx.ticket = messages.Ticket{}

	if ctx.ownCred {
		return ctx.cred.Release()
	}

	return nil
}
