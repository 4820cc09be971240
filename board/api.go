package board

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang/glog"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R], 1)
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}

// BoardApi is the client of the board service: accounts, boards and sharing.
// The document itself is synced by the relay, not the api.
type BoardApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string

	jwt *Latest[string]
}

func NewBoardApi(apiUrl string) *BoardApi {
	return NewBoardApiWithContext(context.Background(), apiUrl)
}

func NewBoardApiWithContext(ctx context.Context, apiUrl string) *BoardApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &BoardApi{
		ctx:    cancelCtx,
		cancel: cancel,
		apiUrl: strings.TrimRight(apiUrl, "/"),
		jwt:    NewLatest(""),
	}
}

// this gets attached to api calls that need it
func (self *BoardApi) SetJwt(jwt string) {
	self.jwt.Set(jwt)
}

func (self *BoardApi) Jwt() string {
	return self.jwt.Get()
}

func (self *BoardApi) url(path string, pathArgs ...string) string {
	escapedArgs := make([]any, len(pathArgs))
	for i, pathArg := range pathArgs {
		escapedArgs[i] = url.PathEscape(pathArg)
	}
	return self.apiUrl + fmt.Sprintf(path, escapedArgs...)
}

func (self *BoardApi) Close() {
	self.cancel()
}

type BoardInfo struct {
	Id         string     `json:"id"`
	Name       string     `json:"name"`
	OwnerId    string     `json:"owner_id,omitempty"`
	OwnerEmail string     `json:"owner_email,omitempty"`
	IsPublic   bool       `json:"is_public"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
}

type LoginArgs struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResult struct {
	Token string `json:"token"`
}

type LoginCallback apiCallback[*LoginResult]

// Login sets the jwt of this api on success.
func (self *BoardApi) Login(login *LoginArgs, callback LoginCallback) {
	go self.LoginSync(login, callback)
}

func (self *BoardApi) LoginSync(login *LoginArgs, callbacks ...LoginCallback) (*LoginResult, error) {
	result, err := post(
		self.ctx,
		self.url("/api/login"),
		login,
		"",
		&LoginResult{},
		NewNoopApiCallback[*LoginResult](),
	)
	if err == nil {
		self.SetJwt(result.Token)
	}
	for _, callback := range callbacks {
		callback.Result(result, err)
	}
	return result, err
}

type RegisterResult struct {
	Id    string `json:"id"`
	Email string `json:"email"`
}

type RegisterCallback apiCallback[*RegisterResult]

func (self *BoardApi) Register(register *LoginArgs, callback RegisterCallback) {
	go post[*RegisterResult](
		self.ctx,
		self.url("/api/register"),
		register,
		"",
		&RegisterResult{},
		callback,
	)
}

func (self *BoardApi) RegisterSync(register *LoginArgs) (*RegisterResult, error) {
	return post(
		self.ctx,
		self.url("/api/register"),
		register,
		"",
		&RegisterResult{},
		NewNoopApiCallback[*RegisterResult](),
	)
}

type ListBoardsCallback apiCallback[[]*BoardInfo]

// ListBoards is every board the user owns, was invited to, or that is public. Newest first.
func (self *BoardApi) ListBoards(callback ListBoardsCallback) {
	go get[[]*BoardInfo](
		self.ctx,
		self.url("/api/boards"),
		self.Jwt(),
		[]*BoardInfo{},
		callback,
	)
}

func (self *BoardApi) ListBoardsSync() ([]*BoardInfo, error) {
	return get(
		self.ctx,
		self.url("/api/boards"),
		self.Jwt(),
		[]*BoardInfo{},
		NewNoopApiCallback[[]*BoardInfo](),
	)
}

type CreateBoardArgs struct {
	// empty for the default name
	Name string `json:"name,omitempty"`
}

type BoardCallback apiCallback[*BoardInfo]

func (self *BoardApi) CreateBoard(createBoard *CreateBoardArgs, callback BoardCallback) {
	go post[*BoardInfo](
		self.ctx,
		self.url("/api/boards"),
		createBoard,
		self.Jwt(),
		&BoardInfo{},
		callback,
	)
}

func (self *BoardApi) CreateBoardSync(createBoard *CreateBoardArgs) (*BoardInfo, error) {
	return post(
		self.ctx,
		self.url("/api/boards"),
		createBoard,
		self.Jwt(),
		&BoardInfo{},
		NewNoopApiCallback[*BoardInfo](),
	)
}

// GetBoard works without a jwt for public boards.
func (self *BoardApi) GetBoard(boardId string, callback BoardCallback) {
	go get[*BoardInfo](
		self.ctx,
		self.url("/api/boards/%s", boardId),
		self.Jwt(),
		&BoardInfo{},
		callback,
	)
}

func (self *BoardApi) GetBoardSync(boardId string) (*BoardInfo, error) {
	return get(
		self.ctx,
		self.url("/api/boards/%s", boardId),
		self.Jwt(),
		&BoardInfo{},
		NewNoopApiCallback[*BoardInfo](),
	)
}

type RenameBoardArgs struct {
	Name string `json:"name"`
}

// RenameBoard is allowed for the owner only.
func (self *BoardApi) RenameBoard(boardId string, renameBoard *RenameBoardArgs, callback BoardCallback) {
	go call[*BoardInfo](
		self.ctx,
		"PATCH",
		self.url("/api/boards/%s", boardId),
		renameBoard,
		self.Jwt(),
		&BoardInfo{},
		callback,
	)
}

func (self *BoardApi) RenameBoardSync(boardId string, renameBoard *RenameBoardArgs) (*BoardInfo, error) {
	if renameBoard.Name == "" {
		return nil, errors.New("Name cannot be empty.")
	}
	return call(
		self.ctx,
		"PATCH",
		self.url("/api/boards/%s", boardId),
		renameBoard,
		self.Jwt(),
		&BoardInfo{},
		NewNoopApiCallback[*BoardInfo](),
	)
}

type ShareBoardArgs struct {
	IsPublic bool `json:"is_public"`
}

func (self *BoardApi) ShareBoard(boardId string, shareBoard *ShareBoardArgs, callback BoardCallback) {
	go call[*BoardInfo](
		self.ctx,
		"PATCH",
		self.url("/api/boards/%s/share", boardId),
		shareBoard,
		self.Jwt(),
		&BoardInfo{},
		callback,
	)
}

func (self *BoardApi) ShareBoardSync(boardId string, shareBoard *ShareBoardArgs) (*BoardInfo, error) {
	return call(
		self.ctx,
		"PATCH",
		self.url("/api/boards/%s/share", boardId),
		shareBoard,
		self.Jwt(),
		&BoardInfo{},
		NewNoopApiCallback[*BoardInfo](),
	)
}

type InviteBoardArgs struct {
	Email string `json:"email"`
}

type InviteBoardResult struct {
	Message string `json:"message"`
}

type InviteBoardCallback apiCallback[*InviteBoardResult]

func (self *BoardApi) InviteBoard(boardId string, inviteBoard *InviteBoardArgs, callback InviteBoardCallback) {
	go post[*InviteBoardResult](
		self.ctx,
		self.url("/api/boards/%s/invite", boardId),
		inviteBoard,
		self.Jwt(),
		&InviteBoardResult{},
		callback,
	)
}

func (self *BoardApi) InviteBoardSync(boardId string, inviteBoard *InviteBoardArgs) (*InviteBoardResult, error) {
	return post(
		self.ctx,
		self.url("/api/boards/%s/invite", boardId),
		inviteBoard,
		self.Jwt(),
		&InviteBoardResult{},
		NewNoopApiCallback[*InviteBoardResult](),
	)
}

type DeleteBoardResult struct {
}

type DeleteBoardCallback apiCallback[*DeleteBoardResult]

func (self *BoardApi) DeleteBoard(boardId string, callback DeleteBoardCallback) {
	go call[*DeleteBoardResult](
		self.ctx,
		"DELETE",
		self.url("/api/boards/%s", boardId),
		nil,
		self.Jwt(),
		&DeleteBoardResult{},
		callback,
	)
}

func (self *BoardApi) DeleteBoardSync(boardId string) (*DeleteBoardResult, error) {
	return call(
		self.ctx,
		"DELETE",
		self.url("/api/boards/%s", boardId),
		nil,
		self.Jwt(),
		&DeleteBoardResult{},
		NewNoopApiCallback[*DeleteBoardResult](),
	)
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// responseError is the message of an error body, either `{"error": ...}` or plain text
func responseError(statusCode int, responseBodyBytes []byte) error {
	var errorBody apiError
	if err := json.Unmarshal(responseBodyBytes, &errorBody); err == nil {
		if errorBody.Error != "" {
			return errors.New(errorBody.Error)
		}
		if errorBody.Message != "" {
			return errors.New(errorBody.Message)
		}
	}
	if errorMessage := strings.TrimSpace(string(responseBodyBytes)); errorMessage != "" {
		return errors.New(errorMessage)
	}
	return fmt.Errorf("Http error %d.", statusCode)
}

func post[R any](ctx context.Context, url string, args any, jwt string, result R, callback apiCallback[R]) (R, error) {
	return call(ctx, "POST", url, args, jwt, result, callback)
}

func get[R any](ctx context.Context, url string, jwt string, result R, callback apiCallback[R]) (R, error) {
	return call(ctx, "GET", url, nil, jwt, result, callback)
}

func call[R any](ctx context.Context, method string, url string, args any, jwt string, result R, callback apiCallback[R]) (R, error) {
	var requestBody io.Reader
	if args != nil {
		requestBodyBytes, err := json.Marshal(args)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
		requestBody = bytes.NewReader(requestBodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, requestBody)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	if args != nil {
		req.Header.Add("Content-Type", "application/json")
	}

	if jwt != "" {
		auth := fmt.Sprintf("Bearer %s", jwt)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if r.StatusCode < 200 || 300 <= r.StatusCode {
		err = responseError(r.StatusCode, responseBodyBytes)
		glog.V(1).Infof("[api]%s %s = %d %s\n", method, url, r.StatusCode, err)
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	if len(bytes.TrimSpace(responseBodyBytes)) != 0 {
		err = json.Unmarshal(responseBodyBytes, &result)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	callback.Result(result, nil)
	return result, nil
}
