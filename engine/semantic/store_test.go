package semantic

import (
	"context"
	"errors"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
)

// --- Mocks ---

type mockPoints struct {
	upsertReq  *pb.UpsertPoints
	upsertResp *pb.PointsOperationResponse
	upsertErr  error
	deleteResp *pb.PointsOperationResponse
	deleteErr  error
	searchReq  *pb.SearchPoints
	searchResp *pb.SearchResponse
	searchErr  error
	getResp    *pb.GetResponse
	getErr     error
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.upsertReq = in
	return m.upsertResp, m.upsertErr
}
func (m *mockPoints) Delete(_ context.Context, _ *pb.DeletePoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	return m.deleteResp, m.deleteErr
}
func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.searchReq = in
	return m.searchResp, m.searchErr
}
func (m *mockPoints) Get(_ context.Context, _ *pb.GetPoints, _ ...grpc.CallOption) (*pb.GetResponse, error) {
	return m.getResp, m.getErr
}

type mockCollections struct {
	listResp   *pb.ListCollectionsResponse
	listErr    error
	createResp *pb.CollectionOperationResponse
	createErr  error
	deleteResp *pb.CollectionOperationResponse
	deleteErr  error
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	return m.listResp, m.listErr
}
func (m *mockCollections) Create(_ context.Context, _ *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	return m.createResp, m.createErr
}
func (m *mockCollections) Delete(_ context.Context, _ *pb.DeleteCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	return m.deleteResp, m.deleteErr
}

// --- Tests ---

func TestNewWithClients(t *testing.T) {
	vs := NewWithClients(&mockPoints{}, &mockCollections{}, "posts")
	if vs == nil {
		t.Fatal("expected non-nil")
	}
	if err := vs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestEnsureCollection_AlreadyExists(t *testing.T) {
	cols := &mockCollections{
		listResp: &pb.ListCollectionsResponse{
			Collections: []*pb.CollectionDescription{{Name: "posts"}},
		},
	}
	vs := NewWithClients(&mockPoints{}, cols, "posts")
	if err := vs.EnsureCollection(context.Background(), 768); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnsureCollection_Creates(t *testing.T) {
	cols := &mockCollections{
		listResp:   &pb.ListCollectionsResponse{Collections: []*pb.CollectionDescription{{Name: "other"}}},
		createResp: &pb.CollectionOperationResponse{Result: true},
	}
	vs := NewWithClients(&mockPoints{}, cols, "posts")
	if err := vs.EnsureCollection(context.Background(), 768); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnsureCollection_ListError(t *testing.T) {
	cols := &mockCollections{listErr: errors.New("rpc fail")}
	vs := NewWithClients(&mockPoints{}, cols, "posts")
	if err := vs.EnsureCollection(context.Background(), 768); err == nil {
		t.Fatal("expected error")
	}
}

func TestUpsert_Empty(t *testing.T) {
	vs := NewWithClients(&mockPoints{}, &mockCollections{}, "posts")
	if err := vs.Upsert(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpsert_PayloadConversion(t *testing.T) {
	pts := &mockPoints{upsertResp: &pb.PointsOperationResponse{}}
	vs := NewWithClients(pts, &mockCollections{}, "posts")

	records := []Record{
		{
			ID:        "id1",
			Embedding: []float32{1, 0, 0, 0},
			Payload: map[string]any{
				FieldContent:     "content: cake",
				FieldTimestamp:   int64(1718000000),
				FieldFingerprint: "abc",
			},
		},
	}
	if err := vs.Upsert(context.Background(), records); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := pts.upsertReq.Points[0].Payload
	if got[FieldContent].GetStringValue() != "content: cake" {
		t.Errorf("content payload: %v", got[FieldContent])
	}
	if got[FieldTimestamp].GetIntegerValue() != 1718000000 {
		t.Errorf("timestamp payload: %v", got[FieldTimestamp])
	}
}

func TestUpsert_Error(t *testing.T) {
	pts := &mockPoints{upsertErr: errors.New("fail")}
	vs := NewWithClients(pts, &mockCollections{}, "posts")

	records := []Record{{ID: "id1", Embedding: []float32{1, 0}}}
	if err := vs.Upsert(context.Background(), records); err == nil {
		t.Fatal("expected error")
	}
}

func TestFingerprints(t *testing.T) {
	pts := &mockPoints{
		getResp: &pb.GetResponse{
			Result: []*pb.RetrievedPoint{
				{
					Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "p1"}},
					Payload: map[string]*pb.Value{
						FieldFingerprint: {Kind: &pb.Value_StringValue{StringValue: "fp1"}},
					},
				},
			},
		},
	}
	vs := NewWithClients(pts, &mockCollections{}, "posts")
	got, err := vs.Fingerprints(context.Background(), []string{"p1", "p2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["p1"] != "fp1" {
		t.Errorf("wrong fingerprint: %v", got)
	}
	if _, ok := got["p2"]; ok {
		t.Error("absent point should not appear")
	}
}

func TestFingerprints_EmptyInput(t *testing.T) {
	vs := NewWithClients(&mockPoints{getErr: errors.New("should not be called")}, &mockCollections{}, "posts")
	got, err := vs.Fingerprints(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty map, got %v", got)
	}
}

func TestDeleteByUsername(t *testing.T) {
	pts := &mockPoints{deleteResp: &pb.PointsOperationResponse{}}
	vs := NewWithClients(pts, &mockCollections{}, "posts")
	if err := vs.DeleteByUsername(context.Background(), "demo_user"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pts = &mockPoints{deleteErr: errors.New("fail")}
	vs = NewWithClients(pts, &mockCollections{}, "posts")
	if err := vs.DeleteByUsername(context.Background(), "demo_user"); err == nil {
		t.Fatal("expected error")
	}
}

func TestSearchFiltered(t *testing.T) {
	pts := &mockPoints{
		searchResp: &pb.SearchResponse{
			Result: []*pb.ScoredPoint{
				{
					Id:    &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "p1"}},
					Score: 0.95,
					Payload: map[string]*pb.Value{
						FieldRecipientID: {Kind: &pb.Value_StringValue{StringValue: "r1"}},
						FieldUsername:    {Kind: &pb.Value_StringValue{StringValue: "demo_user"}},
						FieldPostID:      {Kind: &pb.Value_StringValue{StringValue: "post1"}},
						FieldContent:     {Kind: &pb.Value_StringValue{StringValue: "a chocolate cake"}},
						FieldCaption:     {Kind: &pb.Value_StringValue{StringValue: "yum"}},
						FieldTimestamp:   {Kind: &pb.Value_IntegerValue{IntegerValue: 1718000000}},
					},
				},
			},
		},
	}
	vs := NewWithClients(pts, &mockCollections{}, "posts")
	results, err := vs.SearchFiltered(context.Background(), []float32{1, 0}, 5, map[string]string{FieldRecipientID: "r1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1, got %d", len(results))
	}
	hit := results[0]
	if hit.ID != "p1" || hit.Score != 0.95 {
		t.Error("wrong id/score")
	}
	if hit.RecipientID != "r1" || hit.Username != "demo_user" || hit.PostID != "post1" {
		t.Errorf("wrong identity fields: %+v", hit)
	}
	if hit.Content != "a chocolate cake" || hit.Caption != "yum" || hit.Timestamp != 1718000000 {
		t.Errorf("wrong payload fields: %+v", hit)
	}
	if pts.searchReq.Filter == nil || len(pts.searchReq.Filter.Must) != 1 {
		t.Fatal("expected recipient filter on the request")
	}
}

func TestSearchFiltered_Error(t *testing.T) {
	pts := &mockPoints{searchErr: errors.New("fail")}
	vs := NewWithClients(pts, &mockCollections{}, "posts")
	if _, err := vs.SearchFiltered(context.Background(), []float32{1}, 5, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestFieldMatch(t *testing.T) {
	cond := fieldMatch(FieldUsername, "demo_user")
	fc := cond.GetField()
	if fc.Key != FieldUsername {
		t.Fatalf("expected %s, got %s", FieldUsername, fc.Key)
	}
	if fc.Match.GetKeyword() != "demo_user" {
		t.Fatalf("expected demo_user, got %s", fc.Match.GetKeyword())
	}
}
