package monday

import (
	"context"
	"encoding/json"
	"strconv"

	"mondayease/api/internal/board"
)

// Account is the identity behind an access token.
type Account struct {
	UserID      string `json:"userId"`
	UserName    string `json:"userName"`
	UserEmail   string `json:"userEmail"`
	AccountID   string `json:"accountId"`
	AccountName string `json:"accountName"`
	AccountSlug string `json:"accountSlug"`
}

// flexID accepts Monday ids returned as either strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

const meQuery = `query { me { id name email account { id name slug } } }`

func (c *Client) Me(ctx context.Context, token string) (Account, error) {
	var data struct {
		Me struct {
			ID      flexID `json:"id"`
			Name    string `json:"name"`
			Email   string `json:"email"`
			Account struct {
				ID   flexID `json:"id"`
				Name string `json:"name"`
				Slug string `json:"slug"`
			} `json:"account"`
		} `json:"me"`
	}
	if err := c.Do(ctx, token, "me", meQuery, nil, &data); err != nil {
		return Account{}, err
	}
	if data.Me.Account.ID == "" {
		return Account{}, &APIError{Message: "account identity missing from response"}
	}
	return Account{
		UserID:      string(data.Me.ID),
		UserName:    data.Me.Name,
		UserEmail:   data.Me.Email,
		AccountID:   string(data.Me.Account.ID),
		AccountName: data.Me.Account.Name,
		AccountSlug: data.Me.Account.Slug,
	}, nil
}

type boardPayload struct {
	ID        flexID `json:"id"`
	Name      string `json:"name"`
	State     string `json:"state"`
	Workspace *struct {
		Name string `json:"name"`
	} `json:"workspace"`
	Columns []board.Column `json:"columns"`
}

func (b boardPayload) toBoard() board.Board {
	out := board.Board{ID: string(b.ID), Name: b.Name, State: b.State, Columns: b.Columns}
	if b.Workspace != nil {
		out.Workspace = b.Workspace.Name
	}
	if out.Columns == nil {
		out.Columns = []board.Column{}
	}
	return out
}

const boardsQuery = `query ($page: Int!) {
  boards(limit: 100, page: $page, state: active, order_by: used_at) {
    id name state workspace { name } columns { id title type }
  }
}`

// Boards lists every active board the token can see.
func (c *Client) Boards(ctx context.Context, token string) ([]board.Board, error) {
	out := make([]board.Board, 0)
	for page := 1; page <= 20; page++ {
		var data struct {
			Boards []boardPayload `json:"boards"`
		}
		if err := c.Do(ctx, token, "boards", boardsQuery, map[string]any{"page": page}, &data); err != nil {
			return nil, err
		}
		for _, b := range data.Boards {
			out = append(out, b.toBoard())
		}
		if len(data.Boards) < 100 {
			break
		}
	}
	return out, nil
}

const boardQuery = `query ($ids: [ID!]) {
  boards(ids: $ids) { id name state workspace { name } columns { id title type } }
}`

func (c *Client) Board(ctx context.Context, token, boardID string) (board.Board, error) {
	var data struct {
		Boards []boardPayload `json:"boards"`
	}
	if err := c.Do(ctx, token, "board", boardQuery, map[string]any{"ids": []string{boardID}}, &data); err != nil {
		return board.Board{}, err
	}
	if len(data.Boards) == 0 {
		return board.Board{}, &APIError{Message: "board " + boardID + " not found"}
	}
	return data.Boards[0].toBoard(), nil
}

const usersQuery = `query { users(kind: non_guests) { id name email title } }`

func (c *Client) Users(ctx context.Context, token string) ([]board.User, error) {
	var data struct {
		Users []struct {
			ID    flexID `json:"id"`
			Name  string `json:"name"`
			Email string `json:"email"`
			Title string `json:"title"`
		} `json:"users"`
	}
	if err := c.Do(ctx, token, "users", usersQuery, nil, &data); err != nil {
		return nil, err
	}
	out := make([]board.User, 0, len(data.Users))
	for _, u := range data.Users {
		out = append(out, board.User{ID: string(u.ID), Name: u.Name, Email: u.Email, Title: u.Title})
	}
	return out, nil
}

const itemsQuery = `query ($ids: [ID!], $limit: Int!, $cursor: String) {
  boards(ids: $ids) {
    items_page(limit: $limit, cursor: $cursor) {
      cursor
      items { id name group { id title } column_values { id text type value } }
    }
  }
}`

type itemPayload struct {
	ID    flexID `json:"id"`
	Name  string `json:"name"`
	Group *struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"group"`
	ColumnValues []struct {
		ID    string           `json:"id"`
		Text  *string          `json:"text"`
		Type  string           `json:"type"`
		Value *json.RawMessage `json:"value"`
	} `json:"column_values"`
}

func (p itemPayload) toRow(boardID string) board.Row {
	row := board.Row{
		ID:      string(p.ID),
		BoardID: boardID,
		Name:    p.Name,
		Cells:   make(map[string]board.Cell, len(p.ColumnValues)),
	}
	if p.Group != nil {
		row.GroupID = p.Group.ID
		row.GroupTitle = p.Group.Title
	}
	for _, cv := range p.ColumnValues {
		cell := board.Cell{Type: cv.Type}
		if cv.Text != nil {
			cell.Text = *cv.Text
		}
		if cv.Value != nil {
			cell.Value = decodeValue(*cv.Value)
		}
		row.Cells[cv.ID] = cell
	}
	return row
}

// decodeValue unwraps Monday's JSON-encoded-string values.
func decodeValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if string(raw) == "null" {
		return ""
	}
	return string(raw)
}

// Items fetches every item on a board, following items_page cursors.
func (c *Client) Items(ctx context.Context, token, boardID string) ([]board.Row, error) {
	rows := make([]board.Row, 0)
	var cursor any
	for page := 0; page < maxItemPages; page++ {
		var data struct {
			Boards []struct {
				ItemsPage struct {
					Cursor *string       `json:"cursor"`
					Items  []itemPayload `json:"items"`
				} `json:"items_page"`
			} `json:"boards"`
		}
		vars := map[string]any{"ids": []string{boardID}, "limit": itemsPerPage, "cursor": cursor}
		if err := c.Do(ctx, token, "items", itemsQuery, vars, &data); err != nil {
			return nil, err
		}
		if len(data.Boards) == 0 {
			return nil, &APIError{Message: "board " + boardID + " not found"}
		}
		itemsPage := data.Boards[0].ItemsPage
		for _, item := range itemsPage.Items {
			rows = append(rows, item.toRow(boardID))
		}
		if itemsPage.Cursor == nil || *itemsPage.Cursor == "" {
			return rows, nil
		}
		cursor = *itemsPage.Cursor
	}
	return rows, nil
}

// ParseID validates a numeric Monday id.
func ParseID(raw string) (string, bool) {
	if _, err := strconv.ParseInt(raw, 10, 64); err != nil {
		return "", false
	}
	return raw, true
}
